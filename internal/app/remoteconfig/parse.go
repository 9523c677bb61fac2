package remoteconfig

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// FieldError is one property path that failed validation.
type FieldError struct {
	Path    string
	Kind    string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Message)
}

type FieldErrors []FieldError

// Err joins the field errors, or returns nil when there are none.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	errs := make([]error, len(fe))
	for i, e := range fe {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (fe FieldErrors) Paths() []string {
	out := make([]string, len(fe))
	for i, e := range fe {
		out[i] = e.Path
	}
	return out
}

// ParseResult carries the parsed configuration together with every path that
// failed. Config is only usable when Errors is empty.
type ParseResult struct {
	Config *Config
	Errors FieldErrors
}

func (r ParseResult) OK() bool { return len(r.Errors) == 0 && r.Config != nil }

type parser struct {
	section string
	fields  map[string]gjson.Result
	cfg     *Config
	errs    FieldErrors
}

// Parse reads the section of a desired-properties document. Each field may be
// a bare JSON value or an object of the form {"value": v, "metadata": {...}}.
// Absent optional fields take their defaults; every invalid field is reported
// and parsing continues.
func Parse(raw []byte, section string) ParseResult {
	if section == "" {
		section = DefaultSection
	}
	p := &parser{section: section, cfg: newConfig(), fields: make(map[string]gjson.Result)}

	if !gjson.ValidBytes(raw) {
		p.fail(section, domain.ConfigErrorTypeMismatch, "document is not valid JSON")
		return p.result()
	}
	sec := gjson.ParseBytes(raw).Get(section)
	if !sec.Exists() || !sec.IsObject() {
		p.fail(section, domain.ConfigErrorNotOptional, "configuration section is missing")
		return p.result()
	}
	sec.ForEach(func(k, v gjson.Result) bool {
		if v.IsObject() {
			if inner := v.Get("value"); inner.Exists() {
				v = inner
			}
		}
		p.fields[k.String()] = v
		return true
	})

	p.cfg.MaxLocalCacheSizeInBytes = p.integer(FieldMaxLocalCacheSize, true, 0, 1, math.MaxInt64)
	p.cfg.MaxMessageSizeInBytes = int(p.integer(FieldMaxMessageSize, true, 0, 1, math.MaxInt32))
	p.cfg.HighPriorityQueueSizePercentage = int(p.integer(FieldHighPriorityPercentage, false, defaultHighPriorityShare, 0, 100))
	p.cfg.MessageFrequency = p.duration(FieldMessageFrequency, p.cfg.MessageFrequency)
	p.cfg.SnapshotFrequency = p.duration(FieldSnapshotFrequency, p.cfg.SnapshotFrequency)
	p.cfg.SendTimeout = p.duration(FieldSendTimeout, p.cfg.SendTimeout)

	keys := make([]string, 0, len(p.fields))
	for k := range p.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch {
		case strings.HasPrefix(k, PrefixEventPriority) && len(k) > len(PrefixEventPriority):
			name := strings.TrimPrefix(k, PrefixEventPriority)
			if prio, ok := p.priority(k); ok {
				p.cfg.EventPriorities[name] = prio
			}
		case strings.HasPrefix(k, PrefixAggregationEnabled) && len(k) > len(PrefixAggregationEnabled):
			name := strings.TrimPrefix(k, PrefixAggregationEnabled)
			s := p.cfg.aggregation(name)
			s.Enabled = p.boolean(k, s.Enabled)
			p.cfg.Aggregation[name] = s
		case strings.HasPrefix(k, PrefixAggregationInterval) && len(k) > len(PrefixAggregationInterval):
			name := strings.TrimPrefix(k, PrefixAggregationInterval)
			s := p.cfg.aggregation(name)
			s.Interval = p.duration(k, s.Interval)
			p.cfg.Aggregation[name] = s
		}
	}
	return p.result()
}

func (p *parser) result() ParseResult {
	if len(p.errs) > 0 {
		return ParseResult{Errors: p.errs}
	}
	return ParseResult{Config: p.cfg}
}

func (p *parser) path(field string) string { return p.section + "." + field }

func (p *parser) fail(path, kind, msg string) {
	p.errs = append(p.errs, FieldError{Path: path, Kind: kind, Message: msg})
}

func (p *parser) lookup(field string) (gjson.Result, bool) {
	v, ok := p.fields[field]
	if !ok || v.Type == gjson.Null {
		return gjson.Result{}, false
	}
	return v, true
}

func (p *parser) integer(field string, required bool, def, lo, hi int64) int64 {
	v, ok := p.lookup(field)
	if !ok {
		if required {
			p.fail(p.path(field), domain.ConfigErrorNotOptional, "required value is missing")
		}
		return def
	}
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) {
		p.fail(p.path(field), domain.ConfigErrorTypeMismatch, fmt.Sprintf("expected integer, got %s", v.Raw))
		return def
	}
	n := v.Int()
	if n < lo || n > hi {
		p.fail(p.path(field), domain.ConfigErrorOutOfRange, fmt.Sprintf("%d not in [%d, %d]", n, lo, hi))
		return def
	}
	return n
}

func (p *parser) duration(field string, def time.Duration) time.Duration {
	v, ok := p.lookup(field)
	if !ok {
		return def
	}
	if v.Type != gjson.String {
		p.fail(p.path(field), domain.ConfigErrorTypeMismatch, fmt.Sprintf("expected duration string, got %s", v.Raw))
		return def
	}
	d, err := ParseDuration(v.Str)
	if err != nil {
		p.fail(p.path(field), domain.ConfigErrorTypeMismatch, err.Error())
		return def
	}
	if d <= 0 {
		p.fail(p.path(field), domain.ConfigErrorOutOfRange, "duration must be positive")
		return def
	}
	return d
}

func (p *parser) boolean(field string, def bool) bool {
	v, ok := p.lookup(field)
	if !ok {
		return def
	}
	if v.Type != gjson.True && v.Type != gjson.False {
		p.fail(p.path(field), domain.ConfigErrorTypeMismatch, fmt.Sprintf("expected boolean, got %s", v.Raw))
		return def
	}
	return v.Bool()
}

func (p *parser) priority(field string) (domain.Priority, bool) {
	v, ok := p.lookup(field)
	if !ok {
		return 0, false
	}
	if v.Type != gjson.String {
		p.fail(p.path(field), domain.ConfigErrorTypeMismatch, fmt.Sprintf("expected priority name, got %s", v.Raw))
		return 0, false
	}
	prio, err := domain.ParsePriority(v.Str)
	if err != nil {
		p.fail(p.path(field), domain.ConfigErrorTypeMismatch, err.Error())
		return 0, false
	}
	if prio == domain.PriorityOperational {
		p.fail(p.path(field), domain.ConfigErrorOutOfRange, "operational priority cannot be assigned")
		return 0, false
	}
	return prio, true
}
