package domain

import (
	"time"
)

// Connection status values.
const (
	ConnectionActive = "active"
)

// MaxReferenceDescriptionLength bounds the free-text description of a
// reference line.
const MaxReferenceDescriptionLength = 500

// Connection links a clinician to a patient. Reference lines are clinical
// notes embedded in the connection document; they are removed with it.
type Connection struct {
	ID              string          `bson:"_id" json:"id"`
	ClinicianID     string          `bson:"clinician_id" json:"clinician_id"`
	PatientID       string          `bson:"patient_id" json:"patient_id"`
	PatientUniqueID string          `bson:"patient_unique_id" json:"patient_unique_id"`
	Status          string          `bson:"status" json:"status"`
	ReferenceLines  []ReferenceLine `bson:"reference_lines" json:"reference_lines"`
	LastRefID       int             `bson:"last_ref_id" json:"-"`
	CreatedAt       time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `bson:"updated_at" json:"updated_at"`
}

// ReferenceLine is a single note on a connection. RefID is monotonically
// increasing within the connection and never reused after deletion.
type ReferenceLine struct {
	RefID       int       `bson:"ref_id" json:"ref_id"`
	Description string    `bson:"description" json:"description"`
	Datetime    time.Time `bson:"datetime" json:"datetime"`
	ClinicianID string    `bson:"clinician_id" json:"clinician_id"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// NextRefID returns the ref_id to assign to a new reference line: one
// greater than the highest ever assigned on this connection. LastRefID is
// tracked separately from the line slice so deleted ids are never reissued.
func (c *Connection) NextRefID() int {
	maxID := c.LastRefID
	for _, line := range c.ReferenceLines {
		if line.RefID > maxID {
			maxID = line.RefID
		}
	}
	return maxID + 1
}

// AddReferenceLine appends the line and advances LastRefID.
func (c *Connection) AddReferenceLine(line ReferenceLine) {
	c.ReferenceLines = append(c.ReferenceLines, line)
	if line.RefID > c.LastRefID {
		c.LastRefID = line.RefID
	}
}
