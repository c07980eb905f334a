// Package schema holds the built-in table layouts for event-log containers
// and loads custom layouts from YAML files.
package schema

import (
	"sort"

	"aev/internal/domain"
)

// DefaultName is the layout used when none is requested.
const DefaultName = "security"

var (
	eventIDAlternates = [][]string{
		{"Event", "System", "EventID", "#text"},
		{"Event", "System", "EventID", "Value"},
	}
	timeCreatedAlternates = [][]string{
		{"Event", "System", "TimeCreated", "#attributes", "SystemTime"},
	}
	providerAlternates = [][]string{
		{"Event", "System", "Provider", "#attributes", "Name"},
	}
)

func recordID() domain.FieldSpec {
	return domain.FieldSpec{Name: "id", Type: domain.TypeUint64, RecordID: true}
}

func eventID() domain.FieldSpec {
	return domain.FieldSpec{
		Name:       "eventid",
		Type:       domain.TypeUint64,
		Path:       []string{"Event", "System", "EventID"},
		Alternates: eventIDAlternates,
		Nullable:   true,
		Default:    domain.DefaultNull,
	}
}

func system(name, key string) domain.FieldSpec {
	return text(name, "Event", "System", key)
}

func eventData(name, key string) domain.FieldSpec {
	return text(name, "Event", "EventData", key)
}

func text(name string, path ...string) domain.FieldSpec {
	return domain.FieldSpec{Name: name, Type: domain.TypeString, Path: path, Default: domain.DefaultEmptyString}
}

func nullableText(name string, path ...string) domain.FieldSpec {
	return domain.FieldSpec{Name: name, Type: domain.TypeString, Path: path, Nullable: true, Default: domain.DefaultNull}
}

func number(name string, path ...string) domain.FieldSpec {
	return domain.FieldSpec{Name: name, Type: domain.TypeUint64, Path: path, Nullable: true, Default: domain.DefaultNull}
}

// security mirrors the Security channel layout: object access, process
// creation and logon fields flattened into one table.
func security() domain.Schema {
	return domain.Schema{
		Name: "security",
		Fields: []domain.FieldSpec{
			recordID(),
			eventID(),
			nullableText("processname", "Event", "EventData", "ProcessName"),
			nullableText("subjectusername", "Event", "EventData", "SubjectUserName"),
			eventData("accessmaskname", "AccessMask"),
			eventData("newprocessname", "NewProcessName"),
			eventData("parentprocessname", "ParentProcessName"),
			eventData("handleid", "HandleId"),
			eventData("objectname", "ObjectName"),
			eventData("objectserver", "ObjectServer"),
			eventData("objecttype", "ObjectType"),
			eventData("privilegelist", "PrivilegeList"),
			eventData("processid", "ProcessId"),
			eventData("subjectdomainname", "SubjectDomainName"),
			eventData("subjectlogonid", "SubjectLogonId"),
			eventData("subjectusersid", "SubjectUserSid"),
			system("channel", "Channel"),
			system("computer", "Computer"),
		},
	}
}

// process narrows to process-creation events (4688) with numeric pids.
func process() domain.Schema {
	timeCreated := nullableText("timecreated", "Event", "System", "TimeCreated", "SystemTime")
	timeCreated.Alternates = timeCreatedAlternates
	return domain.Schema{
		Name: "process",
		Fields: []domain.FieldSpec{
			recordID(),
			eventID(),
			timeCreated,
			system("computer", "Computer"),
			eventData("subjectusername", "SubjectUserName"),
			eventData("subjectdomainname", "SubjectDomainName"),
			number("newprocessid", "Event", "EventData", "NewProcessId"),
			eventData("newprocessname", "NewProcessName"),
			eventData("commandline", "CommandLine"),
			number("processid", "Event", "EventData", "ProcessId"),
			eventData("parentprocessname", "ParentProcessName"),
		},
	}
}

// systemHeader keeps only the <System> block every event carries.
func systemHeader() domain.Schema {
	timeCreated := nullableText("timecreated", "Event", "System", "TimeCreated", "SystemTime")
	timeCreated.Alternates = timeCreatedAlternates
	provider := system("provider", "Provider")
	provider.Path = []string{"Event", "System", "Provider", "Name"}
	provider.Alternates = providerAlternates
	return domain.Schema{
		Name: "system",
		Fields: []domain.FieldSpec{
			recordID(),
			eventID(),
			number("level", "Event", "System", "Level"),
			number("task", "Event", "System", "Task"),
			system("keywords", "Keywords"),
			timeCreated,
			provider,
			system("channel", "Channel"),
			system("computer", "Computer"),
		},
	}
}

var builtins = map[string]func() domain.Schema{
	"security": security,
	"process":  process,
	"system":   systemHeader,
}

// Builtin returns a fresh copy of the named built-in layout.
func Builtin(name string) (domain.Schema, bool) {
	fn, ok := builtins[name]
	if !ok {
		return domain.Schema{}, false
	}
	return fn(), true
}

// Default returns the security layout.
func Default() domain.Schema {
	s, _ := Builtin(DefaultName)
	return s
}

// Names lists the built-in layouts.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
