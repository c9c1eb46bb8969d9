package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/jsonsafe"
)

// SchemaVersion is the current archive document version.
const SchemaVersion = 2

// legacyTimeLayout is the minute-resolution stamp of the first format.
const legacyTimeLayout = "2006-01-02 15:04"

type document struct {
	Version   int               `json:"version"`
	Snapshots []json.RawMessage `json:"snapshots"`
}

type encodedDocument struct {
	Version   int        `json:"version"`
	Snapshots []Snapshot `json:"snapshots"`
}

// DecodeResult carries the loaded archive and what had to be repaired.
type DecodeResult struct {
	Archive *Archive
	// Dropped counts records that failed the well-formedness check.
	Dropped int
	// Migrated is set when any record or the document itself was in a
	// legacy shape, so the caller should rewrite it once.
	Migrated bool
}

// Decode parses an archive document. Both the versioned document and the
// legacy bare list are accepted. Malformed records, including any carrying
// a not-a-number sentinel, are dropped rather than repaired. loc is the zone
// of legacy timestamps; nil means time.Local.
func Decode(data []byte, loc *time.Location) (DecodeResult, error) {
	if loc == nil {
		loc = time.Local
	}
	res := DecodeResult{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		res.Archive = New()
		return res, nil
	}

	clean := jsonsafe.QuoteNonFinite(data)
	var records []json.RawMessage
	switch clean[0] {
	case '[':
		if err := json.Unmarshal(clean, &records); err != nil {
			return res, fmt.Errorf("decode archive: %w", err)
		}
		res.Migrated = true
	default:
		var doc document
		if err := json.Unmarshal(clean, &doc); err != nil {
			return res, fmt.Errorf("decode archive: %w", err)
		}
		if doc.Version != SchemaVersion {
			res.Migrated = true
		}
		records = doc.Snapshots
	}

	snapshots := make([]Snapshot, 0, len(records))
	for _, raw := range records {
		s, legacy, ok := decodeRecord(raw, loc)
		if !ok {
			res.Dropped++
			continue
		}
		if legacy {
			res.Migrated = true
		}
		snapshots = append(snapshots, s)
	}
	if !sort.SliceIsSorted(snapshots, func(i, j int) bool { return snapshots[i].Timestamp.Before(snapshots[j].Timestamp) }) {
		sort.SliceStable(snapshots, func(i, j int) bool { return snapshots[i].Timestamp.Before(snapshots[j].Timestamp) })
		res.Migrated = true
	}
	if res.Dropped > 0 {
		res.Migrated = true
	}
	res.Archive = New(snapshots...)
	return res, nil
}

// Encode renders the archive in the current document shape.
func Encode(a *Archive) ([]byte, error) {
	doc := encodedDocument{Version: SchemaVersion, Snapshots: a.All()}
	if doc.Snapshots == nil {
		doc.Snapshots = []Snapshot{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode archive: %w", err)
	}
	return data, nil
}

func decodeRecord(raw json.RawMessage, loc *time.Location) (Snapshot, bool, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Snapshot{}, false, false
	}
	if _, ok := probe["timestamp"]; ok {
		s, ok := decodeCurrent(raw)
		return s, false, ok
	}
	s, ok := decodeLegacy(raw, probe, loc)
	return s, true, ok
}

func decodeCurrent(raw json.RawMessage) (Snapshot, bool) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, false
	}
	if s.Timestamp.IsZero() {
		return Snapshot{}, false
	}
	values := []float64{s.Total.Native, s.Total.USD, s.ChangeNativePct, s.ChangeUSDPct}
	for _, t := range s.Categories {
		values = append(values, t.Native, t.USD)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Snapshot{}, false
		}
	}
	if s.Categories == nil {
		s.Categories = map[holdings.Category]Totals{}
	}
	if s.ID == uuid.Nil {
		s.ID = legacyID(raw)
	}
	return s, true
}

var legacyCategoryFields = map[holdings.Category]string{
	holdings.Crypto:        "Kripto",
	holdings.CashCommodity: "Nakit",
	holdings.Equity:        "Borsa",
}

func decodeLegacy(raw json.RawMessage, fields map[string]json.RawMessage, loc *time.Location) (Snapshot, bool) {
	var stamp string
	if err := json.Unmarshal(fields["tarih"], &stamp); err != nil {
		return Snapshot{}, false
	}
	at, err := time.ParseInLocation(legacyTimeLayout, strings.TrimSpace(stamp), loc)
	if err != nil {
		return Snapshot{}, false
	}

	bad := false
	num := func(names ...string) float64 {
		for _, name := range names {
			v, ok := fields[name]
			if !ok {
				continue
			}
			f, ok := legacyNumber(v)
			if !ok {
				bad = true
			}
			return f
		}
		return 0
	}

	s := Snapshot{
		ID:         legacyID(raw),
		Timestamp:  at,
		Categories: make(map[holdings.Category]Totals, len(legacyCategoryFields)),
		Total: Totals{
			Native: num("Toplam (TL)"),
			USD:    num("Toplam ($)"),
		},
		ChangeNativePct: num("Deg_TL_Num", "Değişim (TL)"),
		ChangeUSDPct:    num("Deg_USD_Num", "Değişim ($)"),
	}
	for _, c := range holdings.Categories {
		prefix := legacyCategoryFields[c]
		s.Categories[c] = Totals{Native: num(prefix + " (TL)"), USD: num(prefix + " ($)")}
	}
	if bad {
		return Snapshot{}, false
	}
	return s, true
}

// legacyNumber reads a number that may have been stored as a formatted
// string such as "TL 1,234.50" or "+5.00%". Not-a-number sentinels and
// unparseable text fail.
func legacyNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.NewReplacer("TL", "", "$", "", "₺", "", ",", "", "%", "", " ", "").Replace(s)
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return 0, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// legacyID derives a stable identifier from a record's bytes so that
// repeated loads of an unmigrated file agree.
func legacyID(raw json.RawMessage) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, raw)
}
