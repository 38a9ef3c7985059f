package mail_ingest

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/utils"
)

// PropertyIDResolver derives the property id a message belongs to. It returns a NotFound
// error wrapping ErrUnknownProperty when the message carries no usable id.
type PropertyIDResolver interface {
	Resolve(event models.IngestEvent, msg *models.ParsedMessage) (string, error)
}

type ResolverFunc func(event models.IngestEvent, msg *models.ParsedMessage) (string, error)

func (f ResolverFunc) Resolve(event models.IngestEvent, msg *models.ParsedMessage) (string, error) {
	return f(event, msg)
}

type ruleResolver struct {
	rule    enum.PropertyIDRule
	pattern *regexp.Regexp
	valid   *regexp.Regexp
}

func NewResolverFromConfig(cfg *config.MailIngestConfig) (PropertyIDResolver, error) {
	pattern, err := regexp.Compile(cfg.PropertyIDPattern)
	if err != nil {
		return nil, imagestack_errors.Config("mail_ingest.NewResolverFromConfig", errors.Wrap(err, "PROPERTY_ID_PATTERN"))
	}
	var valid *regexp.Regexp
	if cfg.PropertyIDValidPattern != "" {
		valid, err = regexp.Compile(cfg.PropertyIDValidPattern)
		if err != nil {
			return nil, imagestack_errors.Config("mail_ingest.NewResolverFromConfig", errors.Wrap(err, "PROPERTY_ID_VALID_PATTERN"))
		}
	}
	switch cfg.PropertyIDRule {
	case enum.PropertyIDRuleRecipient, enum.PropertyIDRuleSubject, enum.PropertyIDRuleBody, enum.PropertyIDRuleChain:
	default:
		return nil, imagestack_errors.Config("mail_ingest.NewResolverFromConfig", errors.Errorf("unknown property id rule %q", cfg.PropertyIDRule))
	}
	return &ruleResolver{rule: cfg.PropertyIDRule, pattern: pattern, valid: valid}, nil
}

func (r *ruleResolver) Resolve(event models.IngestEvent, msg *models.ParsedMessage) (string, error) {
	var candidates []string
	switch r.rule {
	case enum.PropertyIDRuleRecipient:
		candidates = []string{r.fromRecipient(event, msg, false)}
	case enum.PropertyIDRuleSubject:
		candidates = []string{r.fromSubject(msg)}
	case enum.PropertyIDRuleBody:
		candidates = []string{r.fromBody(event, msg)}
	case enum.PropertyIDRuleChain:
		candidates = []string{r.fromRecipient(event, msg, true), r.fromSubject(msg), r.fromBody(event, msg)}
	}

	for _, id := range candidates {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if r.valid != nil && !r.valid.MatchString(id) {
			continue
		}
		return id, nil
	}
	return "", imagestack_errors.NotFound("mail_ingest.Resolve", errors.Wrapf(imagestack_errors.ErrUnknownProperty, "rule %s", r.rule))
}

// fromRecipient reads the plus tag of the recipient; the bare local part counts only when
// tagOnly is false.
func (r *ruleResolver) fromRecipient(event models.IngestEvent, msg *models.ParsedMessage, tagOnly bool) string {
	addresses := []string{event.RecipientAddress}
	if msg != nil {
		addresses = append(addresses, msg.To...)
	}
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		local, tag := utils.SplitLocalPart(addr)
		if tag != "" {
			return tag
		}
		if !tagOnly && local != "" {
			return local
		}
	}
	return ""
}

func (r *ruleResolver) fromSubject(msg *models.ParsedMessage) string {
	if msg == nil {
		return ""
	}
	return firstGroup(r.pattern, msg.Subject)
}

// fromBody searches the decoded bodies first, then the raw message with soft breaks removed.
func (r *ruleResolver) fromBody(event models.IngestEvent, msg *models.ParsedMessage) string {
	if msg != nil {
		if id := firstGroup(r.pattern, stripSoftLineBreaks(msg.HTML+"\n"+msg.Text)); id != "" {
			return id
		}
	}
	return firstGroup(r.pattern, stripSoftLineBreaks(string(event.RawMessage)))
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	}
	return m[0]
}
