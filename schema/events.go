package schema

// eventSchemas returns the payload schema table. This table is a published
// contract shared by every bus participant; extend it with new events or new
// optional fields only, never by removing or retyping existing fields.
func eventSchemas() map[string]*EventSchema {
	return map[string]*EventSchema{
		// Operations: booth pass detected, counted in real time.
		"transit.recorded": {
			Required: []string{"transit_id", "toll_id", "toll_name", "lane", "vehicle_id", "vehicle_type", "timestamp"},
			Properties: map[string]*PropertyDef{
				"transit_id":   {Type: "string"},
				"toll_id":      {Type: "string"},
				"toll_name":    {Type: "string"},
				"lane":         {Type: "string"},
				"vehicle_id":   {Type: "string"},
				"vehicle_type": {Type: "string"},
				"timestamp":    {Type: "string", Format: "date-time"},
				"details":      {Type: "string"},
			},
		},
		// Plate recognition reading.
		"plate.captured": {
			Required: []string{"toll_id", "lane", "image_id", "plate", "confidence", "timestamp"},
			Properties: map[string]*PropertyDef{
				"toll_id":    {Type: "string"},
				"lane":       {Type: "string"},
				"image_id":   {Type: "string"},
				"plate":      {Type: "string"},
				"confidence": {Type: "number"},
				"timestamp":  {Type: "string", Format: "date-time"},
			},
		},
		// Toll state and alerts (open/close/queue/incident).
		"toll.status.updated": {
			Required: []string{"toll_id", "toll_name", "open_lanes", "closed_lanes", "timestamp"},
			Properties: map[string]*PropertyDef{
				"toll_id":      {Type: "string"},
				"toll_name":    {Type: "string"},
				"open_lanes":   {Type: "integer"},
				"closed_lanes": {Type: "integer"},
				"timestamp":    {Type: "string", Format: "date-time"},
				"alerts": {
					Type: "array",
					Items: &PropertyDef{
						Type:     "object",
						Required: []string{"type", "time"},
						Properties: map[string]*PropertyDef{
							"type": {Type: "string"},
							"lane": {Type: "string", Nullable: true},
							"time": {Type: "string", Format: "date-time"},
						},
					},
				},
			},
		},

		// Rates and categories.
		"rate.updated": {
			Required: []string{"rate_id", "category_id", "peak_price", "offpeak_price", "valid_from", "valid_to"},
			Properties: map[string]*PropertyDef{
				"rate_id":       {Type: "string"},
				"category_id":   {Type: "string"},
				"peak_price":    {Type: "number"},
				"offpeak_price": {Type: "number"},
				"valid_from":    {Type: "string", Format: "date"},
				"valid_to":      {Type: "string", Format: "date"},
			},
		},
		"vehicle.category.changed": {
			Required: []string{"vehicle_id", "old_category_id", "new_category_id", "timestamp"},
			Properties: map[string]*PropertyDef{
				"vehicle_id":      {Type: "string"},
				"old_category_id": {Type: "string"},
				"new_category_id": {Type: "string"},
				"timestamp":       {Type: "string", Format: "date-time"},
			},
		},

		// Payments, prepaid balance, debt.
		"payment.recorded": {
			Required: []string{"payment_id", "toll_id", "toll_name", "cashier_id", "timestamp", "payment_method", "amount", "reason"},
			Properties: map[string]*PropertyDef{
				"payment_id":     {Type: "string"},
				"toll_id":        {Type: "string"},
				"toll_name":      {Type: "string"},
				"cashier_id":     {Type: "string"},
				"timestamp":      {Type: "string", Format: "date-time"},
				"payment_method": {Type: "string"},
				"amount":         {Type: "number"},
				"reason":         {Type: "string"},
			},
		},
		"prepaid.balance.updated": {
			Required: []string{"account_id", "vehicle_id", "delta", "balance", "timestamp", "source"},
			Properties: map[string]*PropertyDef{
				"account_id": {Type: "string"},
				"vehicle_id": {Type: "string"},
				"delta":      {Type: "number"},
				"balance":    {Type: "number"},
				"timestamp":  {Type: "string", Format: "date-time"},
				"source":     {Type: "string"},
			},
		},
		"debt.created": {
			Required: []string{"debt_id", "vehicle_id", "amount", "origin", "timestamp"},
			Properties: map[string]*PropertyDef{
				"debt_id":    {Type: "string"},
				"vehicle_id": {Type: "string"},
				"amount":     {Type: "number"},
				"origin":     {Type: "string"},
				"timestamp":  {Type: "string", Format: "date-time"},
			},
		},
		"debt.settled": {
			Required: []string{"debt_id", "vehicle_id", "amount", "timestamp"},
			Properties: map[string]*PropertyDef{
				"debt_id":    {Type: "string"},
				"vehicle_id": {Type: "string"},
				"amount":     {Type: "number"},
				"timestamp":  {Type: "string", Format: "date-time"},
			},
		},

		// Fines.
		"fine.issued": {
			Required: []string{"fine_id", "vehicle_id", "timestamp", "amount", "infraction_type", "state"},
			Properties: map[string]*PropertyDef{
				"fine_id":         {Type: "string"},
				"vehicle_id":      {Type: "string"},
				"timestamp":       {Type: "string", Format: "date-time"},
				"amount":          {Type: "number"},
				"infraction_type": {Type: "string"},
				"state":           {Type: "string"},
				"transit_id":      {Type: "string", Nullable: true},
			},
		},

		// Shared masters. Open: other modules may attach extension fields.
		"customer.upserted": {
			Required: []string{"customer_id", "name", "is_active"},
			Properties: map[string]*PropertyDef{
				"customer_id": {Type: "string"},
				"name":        {Type: "string"},
				"is_active":   {Type: "boolean"},
			},
			Open: true,
		},
		"vehicle.upserted": {
			Required: []string{"vehicle_id", "plate", "category_id"},
			Properties: map[string]*PropertyDef{
				"vehicle_id":  {Type: "string"},
				"plate":       {Type: "string"},
				"category_id": {Type: "string"},
			},
			Open: true,
		},

		// Audit trail, emitted by every module and by the validator worker.
		"audit.logged": {
			Required: []string{"event_id", "event_type", "timestamp", "toll_name", "details"},
			Properties: map[string]*PropertyDef{
				"event_id":   {Type: "string"},
				"event_type": {Type: "string"},
				"timestamp":  {Type: "string", Format: "date-time"},
				"toll_name":  {Type: "string"},
				"details":    {Type: "string"},
				"vehicle_id": {Type: "string", Nullable: true},
			},
		},
	}
}
