package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/protoscope/internal/amf"
)

// ExportFormat selects one export rendering.
type ExportFormat int

const (
	// FormatRaw is the order-stable structured snapshot; Import is its
	// inverse.
	FormatRaw ExportFormat = iota
	// FormatDoc is a human-readable listing grouped by pattern bucket.
	FormatDoc
	// FormatStubs lists per-action field-shape declarations.
	FormatStubs
)

var (
	ErrExportFailed    = errors.New("catalog: export failed")
	ErrImportMalformed = errors.New("catalog: import malformed")
	ErrUnknownFormat   = errors.New("catalog: unknown export format")
)

type rawField struct {
	Key      string   `json:"key"`
	Kinds    []string `json:"kinds"`
	Optional bool     `json:"optional,omitempty"`
}

type rawAction struct {
	Name       string     `json:"name"`
	Directions []string   `json:"directions,omitempty"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
	Count      uint64     `json:"count"`
	Fields     []rawField `json:"fields,omitempty"`
	Samples    [][]byte   `json:"samples,omitempty"`
}

type rawSnapshot struct {
	ExportedAt time.Time   `json:"exported_at"`
	Actions    []rawAction `json:"actions"`
}

// Export renders the catalog in the requested format.
func (c *Catalog) Export(format ExportFormat) ([]byte, error) {
	switch format {
	case FormatRaw:
		return c.exportRaw()
	case FormatDoc:
		return c.exportDoc(), nil
	case FormatStubs:
		return c.exportStubs(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, format)
	}
}

func (c *Catalog) exportRaw() ([]byte, error) {
	snap := rawSnapshot{ExportedAt: time.Now().UTC()}
	for _, act := range c.All() {
		ra := rawAction{
			Name:       act.Name,
			Directions: act.Directions.Strings(),
			FirstSeen:  act.FirstSeen,
			LastSeen:   act.LastSeen,
			Count:      act.Count,
		}
		for _, f := range act.Shape {
			ra.Fields = append(ra.Fields, rawField{
				Key:      f.Key,
				Kinds:    kindNames(f.Kinds),
				Optional: f.Optional,
			})
		}
		for _, s := range act.Samples {
			wire, err := amf.Encode(s)
			if err != nil {
				return nil, fmt.Errorf("%w: sample for %q: %v", ErrExportFailed, act.Name, err)
			}
			ra.Samples = append(ra.Samples, wire)
		}
		snap.Actions = append(snap.Actions, ra)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	return data, nil
}

func (c *Catalog) exportDoc() []byte {
	buckets := make(map[string][]*ProtocolAction)
	for _, act := range c.All() {
		b := c.bucketFor(act.Name)
		buckets[b] = append(buckets[b], act)
	}
	names := make([]string, 0, len(buckets))
	for b := range buckets {
		names = append(names, b)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("# Observed protocol actions\n")
	for _, b := range names {
		fmt.Fprintf(&sb, "\n## %s\n\n", b)
		for _, act := range buckets[b] {
			fmt.Fprintf(&sb, "### %s\n", act.Name)
			fmt.Fprintf(&sb, "- seen %d time(s), %s\n", act.Count,
				strings.Join(act.Directions.Strings(), "+"))
			fmt.Fprintf(&sb, "- first %s, last %s\n",
				act.FirstSeen.UTC().Format(time.RFC3339),
				act.LastSeen.UTC().Format(time.RFC3339))
			for _, f := range act.Shape {
				opt := ""
				if f.Optional {
					opt = " (optional)"
				}
				fmt.Fprintf(&sb, "- %s: %s%s\n", f.Key, f.Kinds, opt)
			}
		}
	}
	return []byte(sb.String())
}

func (c *Catalog) exportStubs() []byte {
	var sb strings.Builder
	for _, act := range c.All() {
		params := make([]string, 0, len(act.Shape))
		for _, f := range act.Shape {
			key := f.Key
			if f.Optional {
				key += "?"
			}
			params = append(params, fmt.Sprintf("%s: %s", key, f.Kinds))
		}
		fmt.Fprintf(&sb, "action %s(%s)\n", act.Name, strings.Join(params, ", "))
	}
	return []byte(sb.String())
}

// Import replaces the catalog contents with a FormatRaw snapshot.
// It is all-or-nothing: a malformed snapshot leaves the catalog untouched.
func (c *Catalog) Import(data []byte) error {
	var snap rawSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrImportMalformed, err)
	}

	actions := make(map[string]*ProtocolAction, len(snap.Actions))
	for _, ra := range snap.Actions {
		if ra.Name == "" {
			return fmt.Errorf("%w: action with empty name", ErrImportMalformed)
		}
		if _, dup := actions[ra.Name]; dup {
			return fmt.Errorf("%w: duplicate action %q", ErrImportMalformed, ra.Name)
		}
		act := &ProtocolAction{
			Name:      ra.Name,
			FirstSeen: ra.FirstSeen,
			LastSeen:  ra.LastSeen,
			Count:     ra.Count,
		}
		for _, d := range ra.Directions {
			switch d {
			case DirectionSent.String():
				act.Directions = act.Directions.Add(DirectionSent)
			case DirectionReceived.String():
				act.Directions = act.Directions.Add(DirectionReceived)
			default:
				return fmt.Errorf("%w: direction %q on %q", ErrImportMalformed, d, ra.Name)
			}
		}
		for _, rf := range ra.Fields {
			kinds, err := kindsFromNames(rf.Kinds)
			if err != nil {
				return fmt.Errorf("%w: field %q on %q: %v", ErrImportMalformed, rf.Key, ra.Name, err)
			}
			act.Shape = append(act.Shape, FieldShape{Key: rf.Key, Kinds: kinds, Optional: rf.Optional})
		}
		for _, wire := range ra.Samples {
			v, err := amf.NewDecoder(wire).Decode()
			if err != nil {
				return fmt.Errorf("%w: sample on %q: %v", ErrImportMalformed, ra.Name, err)
			}
			if len(act.Samples) < c.sampleLimit {
				act.Samples = append(act.Samples, v)
			}
		}
		actions[ra.Name] = act
	}

	c.mu.Lock()
	c.actions = actions
	c.mu.Unlock()
	return nil
}

func kindNames(s amf.KindSet) []string {
	var out []string
	for k := amf.KindUndefined; k <= amf.KindByteArray; k++ {
		if s.Has(k) {
			out = append(out, k.String())
		}
	}
	return out
}

func kindsFromNames(names []string) (amf.KindSet, error) {
	var s amf.KindSet
	for _, name := range names {
		found := false
		for k := amf.KindUndefined; k <= amf.KindByteArray; k++ {
			if k.String() == name {
				s = s.Add(k)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown kind %q", name)
		}
	}
	return s, nil
}
