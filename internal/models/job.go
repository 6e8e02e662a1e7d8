package models

// TaskStatus is the status vocabulary shared by the broker, worker and stores.
type TaskStatus string

const (
	StatusProcessing TaskStatus = "Processing"
	StatusSucceeded  TaskStatus = "Succeeded"
	StatusError      TaskStatus = "Error"
	StatusNotFound   TaskStatus = "Not Found"
)

// Terminal reports whether a job in this status will never change again.
func (s TaskStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusError
}

// ListedStatuses are the groups returned by an AllStatuses enumeration.
var ListedStatuses = []TaskStatus{StatusProcessing, StatusSucceeded, StatusError}

// StatusGroups maps each listed status to the job ids currently in it.
type StatusGroups map[TaskStatus][]string

// NewStatusGroups returns groups with an empty (non-nil) slice per listed status.
func NewStatusGroups() StatusGroups {
	g := make(StatusGroups, len(ListedStatuses))
	for _, s := range ListedStatuses {
		g[s] = []string{}
	}
	return g
}

// JobIDs flattens the groups into a single list, processing jobs first.
func (g StatusGroups) JobIDs() []string {
	out := make([]string, 0)
	for _, s := range ListedStatuses {
		out = append(out, g[s]...)
	}
	return out
}

// Job is a unit of work claimed by a worker.
type Job struct {
	ID    string
	Image []byte
}
