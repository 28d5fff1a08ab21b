package normalize

import "github.com/sells-group/lead-relay/internal/model"

// Target keys name the record attribute a custom field is mapped to. They
// are the keys accepted in the normalize.labels config section.
const (
	KeyLearnerFirstName  = "learner_first_name"
	KeyLearnerLastName   = "learner_last_name"
	KeyGrade             = "grade"
	KeyDepartment        = "department"
	KeyStatus            = "status"
	KeyLearningDirection = "learning_direction"
	KeySubjects          = "subjects"
	KeyManagerComment    = "manager_comment"
	KeyParentName        = "parent_name"
	KeyPaymentDate       = "payment_date"
	KeyCity              = "city"
	KeyPaymentAmount     = "payment_amount"
	KeyPaymentCredit     = "payment_credit"
	KeyPaymentMethod     = "payment_method"
	KeyBranch            = "branch"
	KeyLearningDuration  = "learning_duration"
	KeyStartDate         = "start_date"
	KeyEndDate           = "end_date"
	KeyLearningTime      = "learning_time"
	KeyParentPhone       = "parent_phone"
	KeyBaseCourse        = "base_course"
	KeySummerCamp        = "summer_camp"
	KeyIntensiveCourse   = "intensive_course"
)

// fieldRule maps one CRM custom field onto the record.
type fieldRule struct {
	key     string
	label   string
	joinAll bool
	epoch   bool
	set     func(r *model.Record, v string)
}

var rules = []fieldRule{
	{key: KeyLearnerFirstName, label: "Learner first name", set: func(r *model.Record, v string) { r.Learner.FirstName = v }},
	{key: KeyLearnerLastName, label: "Learner last name", set: func(r *model.Record, v string) { r.Learner.LastName = v }},
	{key: KeyGrade, label: "Grade", set: func(r *model.Record, v string) { r.Learner.Grade = v }},
	{key: KeyDepartment, label: "Department", set: func(r *model.Record, v string) { r.Learner.Department = v }},
	{key: KeyStatus, label: "Learner status", joinAll: true, set: func(r *model.Record, v string) { r.Status = v }},
	{key: KeyLearningDirection, label: "Learning goal", set: func(r *model.Record, v string) { r.Learner.LearningDirection = v }},
	{key: KeySubjects, label: "Subjects", joinAll: true, set: func(r *model.Record, v string) { r.Learner.Subjects = v }},
	{key: KeyManagerComment, label: "Manager comment", set: func(r *model.Record, v string) { r.Manager.Comment = v }},
	{key: KeyParentName, label: "Parent full name", set: func(r *model.Record, v string) { r.Parent.Name = v }},
	{key: KeyPaymentDate, label: "First installment date", epoch: true, set: func(r *model.Record, v string) { r.Payment.Date = v }},
	{key: KeyCity, label: "City", set: func(r *model.Record, v string) { r.City = v }},
	{key: KeyPaymentAmount, label: "First installment amount", set: func(r *model.Record, v string) { r.Payment.Amount = v }},
	{key: KeyPaymentCredit, label: "Second installment amount", set: func(r *model.Record, v string) { r.Payment.Credit = v }},
	{key: KeyPaymentMethod, label: "Payment method", set: func(r *model.Record, v string) { r.Payment.Method = v }},
	{key: KeyBranch, label: "Branch", set: func(r *model.Record, v string) { r.Branch = v }},
	{key: KeyLearningDuration, label: "Duration (months)", set: func(r *model.Record, v string) { r.LearningDurationMonths = v }},
	{key: KeyStartDate, label: "Contract start date", epoch: true, set: func(r *model.Record, v string) { r.StartDate = v }},
	{key: KeyEndDate, label: "Contract end date", epoch: true, set: func(r *model.Record, v string) { r.EndDate = v }},
	{key: KeyLearningTime, label: "Learning time", set: func(r *model.Record, v string) { r.LearningTime = v }},
	{key: KeyParentPhone, label: "Parent phone", set: func(r *model.Record, v string) { r.Parent.Phone = v }},
	{key: KeyBaseCourse, label: "Base course (months)", set: func(r *model.Record, v string) { r.BaseCourseMonths = v }},
	{key: KeySummerCamp, label: "Summer camp", set: func(r *model.Record, v string) { r.SummerCampFlag = v }},
	{key: KeyIntensiveCourse, label: "Intensive course (months)", set: func(r *model.Record, v string) { r.IntensiveCourseMonths = v }},
}

// DefaultLabels returns the built-in CRM field name for every target key.
func DefaultLabels() map[string]string {
	out := make(map[string]string, len(rules))
	for _, r := range rules {
		out[r.key] = r.label
	}
	return out
}
