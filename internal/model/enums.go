package model

// Artifact kinds
type ArtifactKind string

const (
	ArtifactMusic ArtifactKind = "music"
	ArtifactImage ArtifactKind = "image"
)

// Output image sizes accepted by the image editor
type ImageSize string

const (
	ImageSizeSquare    ImageSize = "1024x1024"
	ImageSizeLandscape ImageSize = "1536x1024"
	ImageSizePortrait  ImageSize = "1024x1536"
)

var ValidImageSizes = []ImageSize{
	ImageSizeSquare, ImageSizeLandscape, ImageSizePortrait,
}

// Delivery modes
type DeliveryMode string

const (
	DeliverWhatsApp DeliveryMode = "whatsapp"
	DeliverLink     DeliveryMode = "link"
	DeliverBoth     DeliveryMode = "both"
)

var ValidDeliveryModes = []DeliveryMode{
	DeliverWhatsApp, DeliverLink, DeliverBoth,
}

// Messaging reports whether artifacts are pushed to the messaging gateway.
// An empty mode means the default, which is messaging only.
func (m DeliveryMode) Messaging() bool {
	return m == "" || m == DeliverWhatsApp || m == DeliverBoth
}

// Link reports whether a hosted result record is created.
func (m DeliveryMode) Link() bool {
	return m == DeliverLink || m == DeliverBoth
}

// Result page background colors
type BackgroundColor string

const (
	BackgroundPink  BackgroundColor = "pink"
	BackgroundBlack BackgroundColor = "black"
	BackgroundBlue  BackgroundColor = "blue"
	BackgroundRed   BackgroundColor = "red"
)
