package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of caller roles. Each role maps to the task
// fields it may see through a fixed table checked at package init.
type Role uint8

// Known roles. roleUnknown is the zero value and is never valid.
const (
	roleUnknown Role = iota
	RoleCaseworker
	RoleSupervisor
	RoleAuditor
	RoleSystem
)

var roleNames = map[Role]string{
	RoleCaseworker: "CASEWORKER",
	RoleSupervisor: "SUPERVISOR",
	RoleAuditor:    "AUDITOR",
	RoleSystem:     "SYSTEM",
}

// String returns the canonical role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseRole converts a case-insensitive role name to a Role.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return roleUnknown, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// TaskField names one externally visible task attribute
type TaskField string

// Task fields that can be exposed to callers
const (
	FieldID            TaskField = "id"
	FieldTitle         TaskField = "title"
	FieldDescription   TaskField = "description"
	FieldWorkQueue     TaskField = "work_queue"
	FieldStatus        TaskField = "status"
	FieldPriority      TaskField = "priority"
	FieldDueDate       TaskField = "due_date"
	FieldAssignedTo    TaskField = "assigned_to"
	FieldReservedBy    TaskField = "reserved_by"
	FieldReservedDate  TaskField = "reserved_date"
	FieldForwardedTo   TaskField = "forwarded_to"
	FieldForwardedBy   TaskField = "forwarded_by"
	FieldForwardedDate TaskField = "forwarded_date"
	FieldDeferredBy    TaskField = "deferred_by"
	FieldDeferredDate  TaskField = "deferred_date"
	FieldRestartDate   TaskField = "restart_date"
	FieldClosedBy      TaskField = "closed_by"
	FieldClosedDate    TaskField = "closed_date"
	FieldCloseComments TaskField = "close_comments"
	FieldTimeWorked    TaskField = "time_worked"
	FieldVersion       TaskField = "version"
	FieldCreatedAt     TaskField = "created_at"
	FieldUpdatedAt     TaskField = "updated_at"
)

var allTaskFields = []TaskField{
	FieldID, FieldTitle, FieldDescription, FieldWorkQueue, FieldStatus,
	FieldPriority, FieldDueDate, FieldAssignedTo, FieldReservedBy,
	FieldReservedDate, FieldForwardedTo, FieldForwardedBy, FieldForwardedDate,
	FieldDeferredBy, FieldDeferredDate, FieldRestartDate, FieldClosedBy,
	FieldClosedDate, FieldCloseComments, FieldTimeWorked, FieldVersion,
	FieldCreatedAt, FieldUpdatedAt,
}

// caseworkerFields hides closure notes and time accounting.
var caseworkerFields = []TaskField{
	FieldID, FieldTitle, FieldDescription, FieldWorkQueue, FieldStatus,
	FieldPriority, FieldDueDate, FieldAssignedTo, FieldReservedBy,
	FieldReservedDate, FieldForwardedTo, FieldForwardedBy, FieldForwardedDate,
	FieldDeferredBy, FieldDeferredDate, FieldRestartDate, FieldVersion,
	FieldCreatedAt, FieldUpdatedAt,
}

// auditorFields sees lifecycle metadata but not case content.
var auditorFields = []TaskField{
	FieldID, FieldWorkQueue, FieldStatus, FieldPriority, FieldDueDate,
	FieldAssignedTo, FieldReservedBy, FieldReservedDate, FieldForwardedTo,
	FieldForwardedBy, FieldForwardedDate, FieldDeferredBy, FieldDeferredDate,
	FieldRestartDate, FieldClosedBy, FieldClosedDate, FieldTimeWorked,
	FieldVersion, FieldCreatedAt, FieldUpdatedAt,
}

var roleFieldTable = map[Role][]TaskField{
	RoleCaseworker: caseworkerFields,
	RoleSupervisor: allTaskFields,
	RoleAuditor:    auditorFields,
	RoleSystem:     allTaskFields,
}

// FieldSet is an immutable set of visible fields.
type FieldSet map[TaskField]struct{}

// Has reports whether f is part of the set.
func (s FieldSet) Has(f TaskField) bool {
	_, ok := s[f]
	return ok
}

var roleFieldSets map[Role]FieldSet

func init() {
	if err := validateRoleTable(roleFieldTable); err != nil {
		// ALLOW-PANIC: a broken static table is a programming error
		panic(err)
	}
	roleFieldSets = make(map[Role]FieldSet, len(roleFieldTable))
	for role, fields := range roleFieldTable {
		set := make(FieldSet, len(fields))
		for _, f := range fields {
			set[f] = struct{}{}
		}
		roleFieldSets[role] = set
	}
}

// validateRoleTable checks that every role has an entry and every listed
// field is a known field.
func validateRoleTable(table map[Role][]TaskField) error {
	known := make(map[TaskField]bool, len(allTaskFields))
	for _, f := range allTaskFields {
		known[f] = true
	}

	for role := range roleNames {
		fields, ok := table[role]
		if !ok {
			return fmt.Errorf("role %s has no field set", role)
		}
		for _, f := range fields {
			if !known[f] {
				return fmt.Errorf("role %s lists unknown field %q", role, f)
			}
		}
	}

	for role := range table {
		if _, ok := roleNames[role]; !ok {
			return fmt.Errorf("field table references unknown role %d", role)
		}
	}

	return nil
}

// Fields returns the field set visible to the role.
func (r Role) Fields() FieldSet {
	return roleFieldSets[r]
}

// Project returns the task as a map holding only the fields visible to the
// role. Empty optional fields are omitted.
func (r Role) Project(t *Task) map[string]any {
	fields := r.Fields()
	out := make(map[string]any, len(fields))
	for _, f := range allTaskFields {
		if !fields.Has(f) {
			continue
		}
		if v, ok := fieldValue(t, f); ok {
			out[string(f)] = v
		}
	}
	return out
}

func fieldValue(t *Task, f TaskField) (any, bool) {
	switch f {
	case FieldID:
		return t.ID.String(), true
	case FieldTitle:
		return t.Title, true
	case FieldDescription:
		return t.Description, true
	case FieldWorkQueue:
		return t.WorkQueue, true
	case FieldStatus:
		return string(t.Status), true
	case FieldPriority:
		return t.Priority, true
	case FieldDueDate:
		return t.DueDate, t.DueDate != nil
	case FieldAssignedTo:
		return t.AssignedTo, t.AssignedTo != ""
	case FieldReservedBy:
		return t.ReservedBy, t.ReservedBy != ""
	case FieldReservedDate:
		return t.ReservedDate, t.ReservedDate != nil
	case FieldForwardedTo:
		return t.ForwardedTo, t.ForwardedTo != ""
	case FieldForwardedBy:
		return t.ForwardedBy, t.ForwardedBy != ""
	case FieldForwardedDate:
		return t.ForwardedDate, t.ForwardedDate != nil
	case FieldDeferredBy:
		return t.DeferredBy, t.DeferredBy != ""
	case FieldDeferredDate:
		return t.DeferredDate, t.DeferredDate != nil
	case FieldRestartDate:
		return t.RestartDate, t.RestartDate != nil
	case FieldClosedBy:
		return t.ClosedBy, t.ClosedBy != ""
	case FieldClosedDate:
		return t.ClosedDate, t.ClosedDate != nil
	case FieldCloseComments:
		return t.CloseComments, t.CloseComments != ""
	case FieldTimeWorked:
		return t.TimeWorked, true
	case FieldVersion:
		return t.Version, true
	case FieldCreatedAt:
		return t.CreatedAt, true
	case FieldUpdatedAt:
		return t.UpdatedAt, true
	default:
		return nil, false
	}
}
