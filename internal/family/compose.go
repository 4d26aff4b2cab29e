package family

import (
	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/storage"
)

// Compose joins directory records with their last reported locations.
// Records without a location keep nil coordinates.
func Compose(records []storage.UserRecord, locations map[string]*location.Location) []User {
	users := make([]User, len(records))
	for i, r := range records {
		users[i] = User{ID: r.ID, Name: r.Name}

		loc, ok := locations[r.ID]
		if !ok || loc == nil {
			continue
		}
		lat, lon, ts := loc.Lat, loc.Lon, loc.UpdatedAt
		users[i].Latitude = &lat
		users[i].Longitude = &lon
		users[i].LastUpdated = &ts
	}
	return users
}

// IDs returns the ids of the given records in order.
func IDs(records []storage.UserRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
