package enum

type IngestOutcome string

const (
	IngestStored   IngestOutcome = "stored"
	IngestRejected IngestOutcome = "rejected"
	IngestFailed   IngestOutcome = "failed"
)

func (o IngestOutcome) String() string {
	return string(o)
}

type RejectReason string

const (
	RejectMalformedMessage RejectReason = "malformed_message"
	RejectUnknownProperty  RejectReason = "unknown_property"
	RejectNoImagesFound    RejectReason = "no_images_found"
)

func (r RejectReason) String() string {
	return string(r)
}

type ImageSource string

const (
	ImageSourceEmail ImageSource = "email"
	ImageSourceFeed  ImageSource = "feed"
)

func (s ImageSource) String() string {
	return string(s)
}

type IngestTransport string

const (
	IngestTransportSNS      IngestTransport = "sns"
	IngestTransportHTTP     IngestTransport = "http"
	IngestTransportRabbitMQ IngestTransport = "rabbitmq"
	IngestTransportFile     IngestTransport = "file"
	IngestTransportIMAP     IngestTransport = "imap"
)
