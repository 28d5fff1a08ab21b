package model

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Learner is the student the enrollment is for.
type Learner struct {
	FirstName         string `json:"first_name" yaml:"first_name"`
	LastName          string `json:"last_name" yaml:"last_name"`
	Grade             string `json:"grade" yaml:"grade"`
	Department        string `json:"department" yaml:"department"`
	LearningDirection string `json:"learning_direction" yaml:"learning_direction"`
	Subjects          string `json:"subjects" yaml:"subjects"`
}

// FullName returns "Last First" as written in the enrollment log.
func (l Learner) FullName() string {
	return strings.TrimSpace(l.LastName + " " + l.FirstName)
}

// Manager is the CRM user responsible for the lead.
type Manager struct {
	ID      *int64 `json:"id,omitempty" yaml:"id,omitempty"`
	Name    string `json:"name" yaml:"name"`
	Comment string `json:"comment" yaml:"comment"`
}

// Payment holds first-installment details. All values are free text as
// entered in the CRM.
type Payment struct {
	Date   string `json:"date" yaml:"date"`
	Amount string `json:"amount" yaml:"amount"`
	Credit string `json:"credit" yaml:"credit"`
	Method string `json:"method" yaml:"method"`
}

// Parent is the contact linked to the lead.
type Parent struct {
	ID    *int64 `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name" yaml:"name"`
	Phone string `json:"phone" yaml:"phone"`
	Email string `json:"email" yaml:"email"`
}

// Record is a normalized lead. Absent CRM fields are empty strings; dates
// are YYYY-MM-DD.
type Record struct {
	ID      int64   `json:"id" yaml:"id"`
	Learner Learner `json:"learner" yaml:"learner"`
	Manager Manager `json:"manager" yaml:"manager"`
	Payment Payment `json:"payment" yaml:"payment"`
	Parent  Parent  `json:"parent" yaml:"parent"`

	City                   string `json:"city" yaml:"city"`
	Branch                 string `json:"branch" yaml:"branch"`
	LearningDurationMonths string `json:"learning_duration_months" yaml:"learning_duration_months"`
	StartDate              string `json:"start_date" yaml:"start_date"`
	EndDate                string `json:"end_date" yaml:"end_date"`
	LearningTime           string `json:"learning_time" yaml:"learning_time"`
	BaseCourseMonths       string `json:"base_course_months" yaml:"base_course_months"`
	IntensiveCourseMonths  string `json:"intensive_course_months" yaml:"intensive_course_months"`
	SummerCampFlag         string `json:"summer_camp" yaml:"summer_camp"`
	Status                 string `json:"status" yaml:"status"`
}

// NewRecord returns an empty record for the given lead id.
func NewRecord(id int64) *Record {
	return &Record{ID: id}
}

// HasManager reports whether a responsible user is linked.
func (r *Record) HasManager() bool {
	return r.Manager.ID != nil && *r.Manager.ID > 0
}

// HasParent reports whether a contact is linked.
func (r *Record) HasParent() bool {
	return r.Parent.ID != nil && *r.Parent.ID > 0
}

// Fields returns the identifying log fields for the record.
func (r *Record) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("lead_id", r.ID),
		zap.String("branch", r.Branch),
		zap.String("learner", r.Learner.FullName()),
		zap.String("payment_date", r.Payment.Date),
	}
}

func (r *Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lead #%d\n", r.ID)
	fmt.Fprintf(&b, "City: %s\nBranch: %s\nStatus: %s\n", r.City, r.Branch, r.Status)
	fmt.Fprintf(&b, "Manager: %s (id %s)\n  Comment: %s\n", r.Manager.Name, optionalID(r.Manager.ID), r.Manager.Comment)
	fmt.Fprintf(&b, "Learner: %s\n  Grade: %s %s\n", r.Learner.FullName(), r.Learner.Grade, r.Learner.Department)
	fmt.Fprintf(&b, "Parent: %s (id %s)\n  Phone: %s\n  Email: %s\n", r.Parent.Name, optionalID(r.Parent.ID), r.Parent.Phone, r.Parent.Email)
	fmt.Fprintf(&b, "Duration: %s\nStart: %s\nEnd: %s\nTime: %s\n", r.LearningDurationMonths, r.StartDate, r.EndDate, r.LearningTime)
	fmt.Fprintf(&b, "Base course (months): %s\nIntensive course (months): %s\nSummer camp: %s\n", r.BaseCourseMonths, r.IntensiveCourseMonths, r.SummerCampFlag)
	fmt.Fprintf(&b, "Payment: %s amount=%s credit=%s method=%s\n", r.Payment.Date, r.Payment.Amount, r.Payment.Credit, r.Payment.Method)
	return b.String()
}

func optionalID(id *int64) string {
	if id == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *id)
}
