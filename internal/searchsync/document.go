package searchsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/reservation"
	"github.com/simnova/sharethrift-sub014/internal/searchindex"
)

// DefaultIndexName is the index that holds listing documents
const DefaultIndexName = "listings"

// Document fields excluded from the content hash
var volatileFields = []string{"updatedAt", "lastIndexed", "hash"}

// ListingIndexSpec returns the definition of the listing index
func ListingIndexSpec(name string) searchindex.IndexSpec {
	return searchindex.IndexSpec{
		Name: name,
		Fields: []searchindex.Field{
			{Name: "id", Type: searchindex.FieldString, Key: true},
			{Name: "title", Type: searchindex.FieldString, Searchable: true},
			{Name: "description", Type: searchindex.FieldString, Searchable: true},
			{Name: "location", Type: searchindex.FieldString, Searchable: true, Filterable: true},
			{Name: "category", Type: searchindex.FieldString, Filterable: true},
			{Name: "state", Type: searchindex.FieldString, Filterable: true},
			{Name: "sharerId", Type: searchindex.FieldString, Filterable: true},
			{Name: "reservedPeriods", Type: searchindex.FieldCollection},
			{Name: "createdAt", Type: searchindex.FieldDate},
			{Name: "updatedAt", Type: searchindex.FieldDate},
			{Name: "hash", Type: searchindex.FieldString},
			{Name: "lastIndexed", Type: searchindex.FieldDate},
		},
	}
}

// Project flattens a listing and its active reservation requests into a
// search document. The result carries no hash or lastIndexed.
func Project(l *listing.Listing, requests []*reservation.ReservationRequest) searchindex.Document {
	periods := make([]*reservation.ReservationRequest, 0, len(requests))
	for _, r := range requests {
		if r.State().IsActive() {
			periods = append(periods, r)
		}
	}
	sort.Slice(periods, func(i, j int) bool {
		a, b := periods[i].Period(), periods[j].Period()
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return periods[i].ID() < periods[j].ID()
	})

	reserved := make([]any, 0, len(periods))
	for _, r := range periods {
		reserved = append(reserved, map[string]any{
			"reservationId": r.ID(),
			"start":         formatTime(r.Period().Start),
			"end":           formatTime(r.Period().End),
		})
	}

	return searchindex.Document{
		"id":              l.ID,
		"title":           l.Title,
		"description":     l.Description,
		"location":        l.Location,
		"category":        l.Category,
		"state":           string(l.State),
		"sharerId":        l.SharerID,
		"reservedPeriods": reserved,
		"createdAt":       formatTime(l.CreatedAt),
		"updatedAt":       formatTime(l.UpdatedAt),
	}
}

// Hash fingerprints doc without its volatile fields. encoding/json writes map
// keys in sorted order, so equal content always yields the same hash.
func Hash(doc searchindex.Document) (string, error) {
	stable := make(map[string]any, len(doc))
	for k, v := range doc {
		stable[k] = v
	}
	for _, k := range volatileFields {
		delete(stable, k)
	}
	data, err := json.Marshal(stable)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
