//go:build cgo

// Build as a shared library: go build -buildmode=c-shared -o libpetstock.so ./cmd/mobile
// Every returned string is allocated in C and must be released with FreeString.

package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

//export Init
func Init(configPath *C.char) *C.char {
	return C.CString(core.init(C.GoString(configPath)))
}

//export Cleanup
func Cleanup() {
	core.cleanup()
}

//export GetLastError
func GetLastError() *C.char {
	return C.CString(core.lastError())
}

//export FreeString
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

//export NetworkChanged
func NetworkChanged(reachable C.int) *C.char {
	return C.CString(core.networkChanged(reachable != 0))
}

//export SetOnlineMode
func SetOnlineMode(online C.int) *C.char {
	return C.CString(core.setOnlineMode(online != 0))
}

// =====================================================
// Inventory
// =====================================================

//export ProductAdd
func ProductAdd(request *C.char) *C.char {
	return C.CString(core.productAdd(C.GoString(request)))
}

//export ProductEdit
func ProductEdit(id, request *C.char) *C.char {
	return C.CString(core.productEdit(C.GoString(id), C.GoString(request)))
}

//export ProductDelete
func ProductDelete(id *C.char) *C.char {
	return C.CString(core.productDelete(C.GoString(id)))
}

//export ProductList
func ProductList() *C.char {
	return C.CString(core.productList())
}

//export MovementList
func MovementList() *C.char {
	return C.CString(core.movementList())
}

// =====================================================
// Appointments
// =====================================================

//export AppointmentCreate
func AppointmentCreate(request *C.char) *C.char {
	return C.CString(core.appointmentCreate(C.GoString(request)))
}

//export AppointmentUpdate
func AppointmentUpdate(id, request *C.char) *C.char {
	return C.CString(core.appointmentUpdate(C.GoString(id), C.GoString(request)))
}

//export AppointmentCancel
func AppointmentCancel(id *C.char) *C.char {
	return C.CString(core.appointmentCancel(C.GoString(id)))
}

//export AppointmentList
func AppointmentList(userID *C.char) *C.char {
	return C.CString(core.appointmentList(C.GoString(userID)))
}

//export SpecialistList
func SpecialistList() *C.char {
	return C.CString(core.specialistList())
}

//export PetList
func PetList(userID *C.char) *C.char {
	return C.CString(core.petList(C.GoString(userID)))
}

// =====================================================
// Sync
// =====================================================

//export SyncNow
func SyncNow() *C.char {
	return C.CString(core.syncNow())
}

//export SyncStatus
func SyncStatus() *C.char {
	return C.CString(core.syncStatus())
}

//export PendingCount
// PendingCount returns -1 before Init.
func PendingCount() C.int {
	return C.int(core.pendingCount())
}
