// Package normalize maps raw amoCRM lead payloads onto model.Record.
//
// CRM custom fields arrive as an unordered list of {field_name, values[]}
// entries whose values are loosely typed. Extraction never fails the whole
// parse: a malformed field degrades to an empty string.
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-relay/internal/model"
)

// DefaultAcceptedBranch is the only branch whose leads are relayed.
const DefaultAcceptedBranch = "Online"

// DefaultEmailLabel is the contact custom field holding the parent e-mail.
const DefaultEmailLabel = "Email"

const dateLayout = "2006-01-02"

// Config controls label mapping and the branch filter.
type Config struct {
	AcceptedBranch string
	EmailLabel     string
	// Labels overrides the CRM field name per target key (see the Key*
	// constants). Keys not listed keep their default label.
	Labels map[string]string
}

// Normalizer turns lead payloads into records.
type Normalizer struct {
	accepted   string
	emailLabel string
	byLabel    map[string]fieldRule
}

// Outcome is the result of parsing a lead payload. A branch mismatch is an
// expected outcome, not an error: Rejected is set and Record still holds
// the parsed values for debugging.
type Outcome struct {
	Record   *model.Record
	Rejected bool
	Branch   string
}

// Accepted reports whether the record passed the branch filter.
func (o Outcome) Accepted() bool {
	return o.Record != nil && !o.Rejected
}

// New builds a Normalizer. It fails on unknown target keys, empty labels,
// or two targets sharing one label.
func New(cfg Config) (*Normalizer, error) {
	labels := DefaultLabels()
	for key, label := range cfg.Labels {
		key = strings.ToLower(strings.TrimSpace(key))
		if _, ok := labels[key]; !ok {
			return nil, eris.Errorf("normalize: unknown label key %q", key)
		}
		if canonical(label) == "" {
			return nil, eris.Errorf("normalize: empty label for %q", key)
		}
		labels[key] = label
	}

	n := &Normalizer{
		accepted:   cfg.AcceptedBranch,
		emailLabel: canonical(cfg.EmailLabel),
		byLabel:    make(map[string]fieldRule, len(rules)),
	}
	if n.accepted == "" {
		n.accepted = DefaultAcceptedBranch
	}
	if n.emailLabel == "" {
		n.emailLabel = DefaultEmailLabel
	}

	for _, r := range rules {
		r.label = canonical(labels[r.key])
		if prev, dup := n.byLabel[r.label]; dup {
			keys := []string{prev.key, r.key}
			sort.Strings(keys)
			return nil, eris.Errorf("normalize: label %q used by both %s and %s", r.label, keys[0], keys[1])
		}
		n.byLabel[r.label] = r
	}
	return n, nil
}

// AcceptedBranch returns the branch literal records must carry.
func (n *Normalizer) AcceptedBranch() string {
	return n.accepted
}

// Parse maps a lead payload onto a new record. The error is reserved for
// payloads that are not a JSON object with a numeric id.
func (n *Normalizer) Parse(payload []byte) (Outcome, error) {
	if !gjson.ValidBytes(payload) {
		return Outcome{}, eris.New("normalize: lead payload is not valid json")
	}
	lead := gjson.ParseBytes(payload)
	if !lead.IsObject() {
		return Outcome{}, eris.New("normalize: lead payload is not an object")
	}
	id := lead.Get("id")
	if id.Type != gjson.Number {
		return Outcome{}, eris.Errorf("normalize: lead payload has no numeric id (got %q)", id.Raw)
	}

	rec := model.NewRecord(id.Int())
	if manager := positiveID(lead.Get("responsible_user_id")); manager != nil {
		rec.Manager.ID = manager
	}

	for _, field := range customFields(lead, rec.ID) {
		name := field.Get("field_name")
		if !name.Exists() || name.Type == gjson.Null {
			continue
		}
		rule, ok := n.byLabel[canonical(name.String())]
		if !ok {
			continue
		}
		value := valueOf(field, rule.joinAll)
		if rule.epoch {
			value = epochField(rule.key, value)
		}
		rule.set(rec, value)
	}

	rec.Parent.ID = parentID(lead)

	if rec.Branch != n.accepted {
		return Outcome{Record: rec, Rejected: true, Branch: rec.Branch}, nil
	}
	return Outcome{Record: rec, Branch: rec.Branch}, nil
}

// SetManagerName copies the user's display name onto the record.
func (n *Normalizer) SetManagerName(rec *model.Record, userPayload []byte) {
	rec.Manager.Name = ""
	if !gjson.ValidBytes(userPayload) {
		zap.L().Debug("normalize: user payload is not valid json", zap.Int64("lead_id", rec.ID))
		return
	}
	name := gjson.GetBytes(userPayload, "name")
	if name.Type == gjson.String {
		rec.Manager.Name = name.String()
	}
}

// SetParentEmail copies the first value of the contact's e-mail field onto
// the record.
func (n *Normalizer) SetParentEmail(rec *model.Record, contactPayload []byte) {
	rec.Parent.Email = ""
	if !gjson.ValidBytes(contactPayload) {
		zap.L().Debug("normalize: contact payload is not valid json", zap.Int64("lead_id", rec.ID))
		return
	}
	for _, field := range customFields(gjson.ParseBytes(contactPayload), rec.ID) {
		if canonical(field.Get("field_name").String()) != n.emailLabel {
			continue
		}
		rec.Parent.Email = valueOf(field, false)
		return
	}
}

// customFields returns the custom_fields_values entries. The CRM sends null
// when a record has no custom fields.
func customFields(payload gjson.Result, leadID int64) []gjson.Result {
	fields := payload.Get("custom_fields_values")
	if fields.IsArray() {
		return fields.Array()
	}
	if fields.Exists() && fields.Type != gjson.Null {
		zap.L().Debug("normalize: custom_fields_values is not a list",
			zap.Int64("lead_id", leadID), zap.String("raw", fields.Raw))
	}
	return nil
}

// valueOf extracts a custom field's value. With joinAll false it returns the
// first slot; with joinAll true it joins every non-null slot with ", ". Any
// structural anomaly yields "".
func valueOf(field gjson.Result, joinAll bool) string {
	values := field.Get("values")
	if !values.IsArray() {
		anomaly(field, "values is not a list")
		return ""
	}
	slots := values.Array()

	if !joinAll {
		if len(slots) == 0 {
			return ""
		}
		v, _, ok := slotValue(slots[0])
		if !ok {
			anomaly(field, "malformed value slot")
			return ""
		}
		return v
	}

	parts := make([]string, 0, len(slots))
	for _, slot := range slots {
		v, isNull, ok := slotValue(slot)
		if !ok {
			anomaly(field, "malformed value slot")
			return ""
		}
		if isNull {
			continue
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, ", ")
}

// slotValue reads {"value": ...}. Scalars are rendered as text; a null
// value is reported via isNull. ok is false for a malformed slot.
func slotValue(slot gjson.Result) (value string, isNull, ok bool) {
	if !slot.IsObject() {
		return "", false, false
	}
	v := slot.Get("value")
	switch {
	case !v.Exists():
		return "", false, false
	case v.Type == gjson.Null:
		return "", true, true
	case v.IsObject() || v.IsArray():
		return "", false, false
	default:
		return v.String(), false, true
	}
}

// EpochDate converts Unix-epoch seconds to a UTC calendar date. The CRM's
// stored epoch is one day behind the intended date, so one day is added.
func EpochDate(raw string) (string, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "", eris.Wrapf(err, "normalize: parse epoch %q", raw)
	}
	return time.Unix(secs, 0).UTC().Add(24 * time.Hour).Format(dateLayout), nil
}

func epochField(key, raw string) string {
	if raw == "" {
		return ""
	}
	date, err := EpochDate(raw)
	if err != nil {
		zap.L().Warn("normalize: invalid date field", zap.String("field", key), zap.String("raw", raw), zap.Error(err))
		return ""
	}
	return date
}

// parentID returns the first linked contact's id. A missing or malformed
// relation means no parent is linked.
func parentID(lead gjson.Result) *int64 {
	return positiveID(lead.Get("_embedded.contacts.0.id"))
}

func positiveID(v gjson.Result) *int64 {
	if v.Type != gjson.Number {
		return nil
	}
	id := v.Int()
	if id <= 0 {
		return nil
	}
	return &id
}

func anomaly(field gjson.Result, reason string) {
	zap.L().Debug("normalize: degraded field to empty",
		zap.String("field", field.Get("field_name").String()),
		zap.String("reason", reason),
	)
}

// canonical trims and NFC-normalizes a label so that composed and
// decomposed spellings of the same CRM field name match.
func canonical(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
