package model

import "time"

// Reservation books one or more fields for a group on a single date
// between Start (inclusive) and End (exclusive).  Two reservations on
// the same date that share a field must not overlap in time.
//
// Fields:
//  ID        – primary key identifier, assigned on creation.
//  Date      – calendar date as "YYYY-MM-DD"; compared as a plain string.
//  Start     – start time of day as "HH:MM".
//  End       – end time of day as "HH:MM" (must be after Start).
//  Fields    – identifiers of the fields occupied by the reservation.
//  Group     – free-text label of the party that booked.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Reservation struct {
    ID        uint64    `json:"id" bson:"_id"`                // reservations.id
    Date      string    `json:"date" bson:"date"`             // reservations.date
    Start     string    `json:"start" bson:"start"`           // reservations.start_time
    End       string    `json:"end" bson:"end"`               // reservations.end_time
    Fields    []string  `json:"fields" bson:"fields"`         // reservation_fields.field_id, ordered by position
    Group     string    `json:"group" bson:"group"`           // reservations.group_name
    CreatedAt time.Time `json:"created_at" bson:"created_at"` // reservations.created_at
    UpdatedAt time.Time `json:"updated_at" bson:"updated_at"` // reservations.updated_at
}

// HasField reports whether the reservation occupies the given field.
func (r Reservation) HasField(field string) bool {
    for _, f := range r.Fields {
        if f == field {
            return true
        }
    }
    return false
}

// Clone returns a copy that does not share the Fields slice.
func (r Reservation) Clone() Reservation {
    out := r
    if r.Fields != nil {
        out.Fields = append([]string(nil), r.Fields...)
    }
    return out
}
