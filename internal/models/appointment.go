package models

import "time"

// AppointmentStatusPending is the status of a freshly booked appointment.
const AppointmentStatusPending = "pending"

// Appointment is a booked visit with a specialist.
type Appointment struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	SpecialistID        string    `json:"specialistId"`
	SpecialistName      string    `json:"specialistName"`
	SpecialistSpecialty string    `json:"specialistSpecialty"`
	PetID               string    `json:"petId"`
	PetName             string    `json:"petName"`
	Date                string    `json:"date"`
	Time                string    `json:"time"`
	Reason              string    `json:"reason"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
	Offline             bool      `json:"offline,omitempty"`
}

// AppointmentInput is the data needed to book an appointment.
type AppointmentInput struct {
	UserID              string
	SpecialistID        string
	SpecialistName      string
	SpecialistSpecialty string
	PetID               string
	PetName             string
	Date                string
	Time                string
	Reason              string
}

// AppointmentPatch carries the fields of an appointment edit; nil fields are left unchanged.
type AppointmentPatch struct {
	Date   *string
	Time   *string
	Reason *string
	Status *string
}

// RemoteFields returns the document written to the appointments collection.
func (a Appointment) RemoteFields() map[string]interface{} {
	return map[string]interface{}{
		"userId":              a.UserID,
		"specialistId":        a.SpecialistID,
		"specialistName":      a.SpecialistName,
		"specialistSpecialty": a.SpecialistSpecialty,
		"petId":               a.PetID,
		"petName":             a.PetName,
		"date":                a.Date,
		"time":                a.Time,
		"reason":              a.Reason,
		"status":              a.Status,
		"createdAt":           a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Fields returns the patch as a partial document.
func (p AppointmentPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Date != nil {
		fields["date"] = *p.Date
	}
	if p.Time != nil {
		fields["time"] = *p.Time
	}
	if p.Reason != nil {
		fields["reason"] = *p.Reason
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	return fields
}

// Specialist is a veterinary specialist that can be booked.
type Specialist struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

// Pet belongs to a user and can be booked for appointments.
type Pet struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Breed  string `json:"breed,omitempty"`
	Age    string `json:"age,omitempty"`
}
