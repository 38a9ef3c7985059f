package enum

type EntityType string

const (
	PROPERTY EntityType = "PROPERTY"
	EMAIL    EntityType = "EMAIL"
)

func (e EntityType) String() string {
	return string(e)
}
