package common

type SessionState uint

const (
	NodeListView SessionState = iota
	AddNodeView
	FailuresView
)
