package app

import (
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-crm-sync/crm"
)

func newCreateCmd() *cobra.Command {
	var (
		in           crm.NewCustomer
		customerType string
		status       string
		source       string
		email        string
		phone        string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a customer in the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m, _, err := openManager(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer m.Close()

			in.Type = crm.CustomerType(customerType)
			in.Status = crm.CustomerStatus(status)
			in.Source = crm.CustomerSource(source)
			if email != "" {
				in.Contacts = append(in.Contacts, crm.CustomerContact{Type: crm.ContactEmail, Value: email})
			}
			if phone != "" {
				in.Contacts = append(in.Contacts, crm.CustomerContact{Type: crm.ContactPhone, Value: phone})
			}

			c, err := m.CreateCustomer(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.ID, "id", "", "Customer id (generated when empty)")
	f.StringVar(&in.FirstName, "first-name", "", "First name")
	f.StringVar(&in.LastName, "last-name", "", "Last name")
	f.StringVar(&in.BusinessName, "business-name", "", "Business name")
	f.StringVar(&in.Industry, "industry", "", "Industry")
	f.StringVar(&in.AssignedTo, "assigned-to", "", "Owning user")
	f.StringVar(&in.Notes, "notes", "", "Free text notes")
	f.StringSliceVar(&in.Tags, "tag", nil, "Tag (repeatable)")
	f.StringVar(&customerType, "type", "", "individual or business")
	f.StringVar(&status, "status", "", "lead, prospect, active, inactive or churned")
	f.StringVar(&source, "source", "", "Acquisition source")
	f.StringVar(&email, "email", "", "Primary email address")
	f.StringVar(&phone, "phone", "", "Phone number")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		filter   crm.SearchFilter
		status   string
		ctype    string
		near     []float64
		radiusKm float64
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search customers in the local store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m, _, err := openManager(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer m.Close()

			if len(args) == 1 {
				filter.Query = args[0]
			}
			filter.Status = crm.CustomerStatus(status)
			filter.Type = crm.CustomerType(ctype)
			if len(near) == 2 {
				filter.Near = &crm.Radius{
					Center:   crm.GeoPoint{Latitude: near[0], Longitude: near[1]},
					RadiusKm: radiusKm,
				}
			}
			results := m.SearchCustomers(filter)
			if results == nil {
				results = []*crm.Customer{}
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "Only customers with this status")
	f.StringVar(&ctype, "type", "", "Only customers of this type")
	f.StringVar(&filter.Industry, "industry", "", "Only customers in this industry")
	f.StringVar(&filter.AssignedTo, "assigned-to", "", "Only customers owned by this user")
	f.StringSliceVar(&filter.Tags, "tag", nil, "Required tag (repeatable)")
	f.Float64SliceVar(&near, "near", nil, "Center as latitude,longitude")
	f.Float64Var(&radiusKm, "radius-km", 10, "Search radius around --near")
	f.IntVar(&filter.Limit, "limit", 0, "Maximum number of results")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print statistics for the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m, _, err := openManager(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer m.Close()
			return printJSON(cmd.OutOrStdout(), m.GetStatistics())
		},
	}
}
