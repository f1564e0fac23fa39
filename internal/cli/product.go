package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/petstock/internal/models"
)

// ProductOptions holds flags for the product subcommands.
type ProductOptions struct {
	*RootOptions
	Code     string
	Name     string
	Quantity int
	MinStock int
	Photo    string
}

// NewProductCommand creates the product command and its subcommands.
func NewProductCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage inventory products",
	}
	cmd.AddCommand(newProductAddCommand(rootOpts))
	cmd.AddCommand(newProductEditCommand(rootOpts))
	cmd.AddCommand(newProductDeleteCommand(rootOpts))
	cmd.AddCommand(newProductListCommand(rootOpts))
	return cmd
}

func newProductAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProductOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a product",
		Long: `Register a product keyed by its code. Its initial stock is recorded
as an inbound movement.

Examples:
  petstock product add --code T-01 --name Tornillo --quantity 10 --min-stock 2
  petstock product add --name Collar --quantity 3 --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Service.AddProduct(cmd.Context(), models.ProductInput{
				Code:     opts.Code,
				Name:     opts.Name,
				Quantity: opts.Quantity,
				MinStock: opts.MinStock,
				Photo:    opts.Photo,
			})
			if p == nil {
				return opts.report(cmd, nil, err, nil)
			}
			return opts.report(cmd, p, err, func(w io.Writer) {
				fmt.Fprintf(w, "Added %s (%s), quantity %d\n", p.Name, p.Code, p.Quantity)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "product code, generated when empty")
	cmd.Flags().StringVar(&opts.Name, "name", "", "product name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().IntVarP(&opts.Quantity, "quantity", "q", 0, "initial stock")
	cmd.Flags().IntVar(&opts.MinStock, "min-stock", 0, "low stock threshold")
	cmd.Flags().StringVar(&opts.Photo, "photo", "", "photo URL")

	return cmd
}

func newProductEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProductOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <code>",
		Short: "Edit a product",
		Long: `Edit the given fields of a product. A quantity change records a
stock movement.

Examples:
  petstock product edit T-01 --quantity 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.ProductPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &opts.Name
			}
			if flags.Changed("quantity") {
				patch.Quantity = &opts.Quantity
			}
			if flags.Changed("min-stock") {
				patch.MinStock = &opts.MinStock
			}
			if flags.Changed("photo") {
				patch.Photo = &opts.Photo
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Service.EditProduct(cmd.Context(), args[0], patch)
			if p == nil {
				return opts.report(cmd, nil, err, nil)
			}
			return opts.report(cmd, p, err, func(w io.Writer) {
				fmt.Fprintf(w, "Updated %s (%s), quantity %d\n", p.Name, p.Code, p.Quantity)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "product name")
	cmd.Flags().IntVarP(&opts.Quantity, "quantity", "q", 0, "stock quantity")
	cmd.Flags().IntVar(&opts.MinStock, "min-stock", 0, "low stock threshold")
	cmd.Flags().StringVar(&opts.Photo, "photo", "", "photo URL")

	return cmd
}

func newProductDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Service.DeleteProduct(cmd.Context(), args[0])
			result := map[string]string{"deleted": args[0]}
			return rootOpts.report(cmd, result, err, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s\n", args[0])
			})
		},
	}
}

func newProductListCommand(rootOpts *RootOptions) *cobra.Command {
	var lowOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the local inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			products := a.Service.Products()
			if lowOnly {
				filtered := products[:0]
				for _, p := range products {
					if isLowStock(p) {
						filtered = append(filtered, p)
					}
				}
				products = filtered
			}

			return rootOpts.formatter(cmd).Success(products, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CODE\tNAME\tQUANTITY\tMIN\t")
				for _, p := range products {
					marker := ""
					if isLowStock(p) {
						marker = "low"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.Code, p.Name, p.Quantity, p.MinStock, marker)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&lowOnly, "low", false, "only products at or below their minimum stock")
	return cmd
}

// NewMovementsCommand creates the movements command.
func NewMovementsCommand(rootOpts *RootOptions) *cobra.Command {
	var product string
	var limit int

	cmd := &cobra.Command{
		Use:   "movements",
		Short: "Show the stock history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var movements []models.Movement
			for _, m := range a.Service.Movements() {
				if product != "" && m.ProductID != product {
					continue
				}
				movements = append(movements, m)
				if limit > 0 && len(movements) == limit {
					break
				}
			}

			return rootOpts.formatter(cmd).Success(movements, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tPRODUCT\tTYPE\tQUANTITY\tBEFORE\tAFTER")
				for _, m := range movements {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
						m.Date, m.ProductCode, m.Type, m.Quantity, m.PreviousQuantity, m.NewQuantity)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&product, "product", "", "only movements of this product")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of movements (0 = all)")
	return cmd
}

func isLowStock(p models.Product) bool {
	return p.MinStock > 0 && p.Quantity <= p.MinStock
}
