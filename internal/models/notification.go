package models

type InlineImage struct {
	Data        []byte
	ContentType string
	FileName    string
	ContentID   string
}

type Notification struct {
	From      string
	To        []string
	Subject   string
	HTMLBody  string
	TextBody  string
	MessageID string
	Inlines   []InlineImage
}
