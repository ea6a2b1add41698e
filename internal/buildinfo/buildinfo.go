package buildinfo

// Version is the integration version reported in the payload signature block.
const Version = "1.0.0"

// APIVersion is the ShipFlo API version the client speaks.
const APIVersion = "v1"

// Platform and Integration name the sending system to the backend.
const (
	Platform    = "woocommerce"
	Integration = "shipflo-wc"
)
