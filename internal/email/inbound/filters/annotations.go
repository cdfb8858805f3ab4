package filters

const (
	AnnotationIgnoreMessage    = "postmaster.ignore_message"
	AnnotationClassification   = "postmaster.classification"
	AnnotationPriorityOverride = "postmaster.priority_override"
	AnnotationAutoSubmitted    = "postmaster.auto_submitted"
)
