package capability

import "time"

// Structured payloads exchanged with capability providers. Field names
// follow the providers' camelCase JSON.

type EquipmentStatus struct {
	EquipmentID string `json:"equipmentId"`
	FacilityID  string `json:"facilityId"`
	State       string `json:"state"`
}

type SensorReadings struct {
	EquipmentID    string  `json:"equipmentId"`
	VibrationAvg   float64 `json:"vibrationAvg"`
	TemperatureAvg float64 `json:"temperatureAvg"`
	PowerAvg       float64 `json:"powerAvg"`
	RPMAvg         float64 `json:"rpmAvg"`
}

type FailurePrediction struct {
	EquipmentID        string  `json:"equipmentId"`
	FailureProbability float64 `json:"failureProbability"`
	FaultType          string  `json:"faultType"`
	ProbableCause      string  `json:"probableCause"`
}

type RULEstimate struct {
	EquipmentID string  `json:"equipmentId"`
	RULHours    float64 `json:"rulHours"`
}

type MaintenanceHistory struct {
	EquipmentID string   `json:"equipmentId"`
	WorkOrders  []string `json:"workOrders"`
}

type PartSpec struct {
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	QuantityNeeded int     `json:"quantityNeeded"`
	UnitPrice      float64 `json:"unitPrice"`
	Primary        bool    `json:"primary"`
}

type CompatibleParts struct {
	EquipmentID string     `json:"equipmentId"`
	FaultType   string     `json:"faultType"`
	Parts       []PartSpec `json:"parts"`
}

type FacilityStock struct {
	FacilityID string `json:"facilityId"`
	Quantity   int    `json:"quantity"`
}

type StockLevel struct {
	SKU        string          `json:"sku"`
	Facilities []FacilityStock `json:"facilities"`
	TotalStock int             `json:"totalStock"`
}

// At returns the quantity held at facility.
func (s StockLevel) At(facility string) int {
	for _, f := range s.Facilities {
		if f.FacilityID == facility {
			return f.Quantity
		}
	}
	return 0
}

type ReservationItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type Reservation struct {
	ReservationID string `json:"reservationId"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	FacilityID    string `json:"facilityId"`
}

type Reservations struct {
	Reservations []Reservation `json:"reservations"`
}

type Release struct {
	ReservationID string `json:"reservationId"`
	Released      bool   `json:"released"`
}

type ShippingQuote struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	Cost         float64 `json:"cost"`
	TransitHours float64 `json:"transitHours"`
	Carrier      string  `json:"carrier"`
}

type Shipment struct {
	ShipmentID       string            `json:"shipmentId"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	Items            []ReservationItem `json:"items"`
	Cost             float64           `json:"cost"`
	EstimatedArrival time.Time         `json:"estimatedArrival"`
	Status           string            `json:"status,omitempty"`
}

type WorkOrder struct {
	WorkOrderID     string    `json:"workOrderId"`
	EquipmentID     string    `json:"equipmentId"`
	FacilityID      string    `json:"facilityId"`
	MaintenanceType string    `json:"maintenanceType"`
	Priority        string    `json:"priority"`
	Technician      string    `json:"technician"`
	ScheduledDate   time.Time `json:"scheduledDate"`
}

type ComplianceReport struct {
	EquipmentID   string `json:"equipmentId" yaml:"equipmentId"`
	Status        string `json:"status" yaml:"status"`
	Framework     string `json:"framework" yaml:"framework"`
	AuditTrailRef string `json:"auditTrailRef" yaml:"auditTrailRef"`
}

type BatchTrace struct {
	EquipmentID string `json:"equipmentId"`
	BatchID     string `json:"batchId"`
	Material    string `json:"material,omitempty"`
}

type NotificationReceipt struct {
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
}
