package resource

type Kind int

const (
	Global Kind = iota
	Task
	Processor
	Machine
	Log
)

func (k Kind) String() string {
	return [...]string{
		"global",
		"task",
		"p",
		"m",
		"log",
	}[k]
}
