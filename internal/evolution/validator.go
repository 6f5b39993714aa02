// Package evolution validates that a new metadata snapshot is a safe
// evolution of the previous one.
package evolution

import (
	"fmt"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/metadata"
)

// ViolationKind classifies an evolution error.
type ViolationKind string

const (
	RecordTypeRemoved         ViolationKind = "recordTypeRemoved"
	PrimaryKeyChanged         ViolationKind = "primaryKeyChanged"
	IndexRemovedWithoutFormer ViolationKind = "indexRemovedWithoutFormer"
	IndexFormatChanged        ViolationKind = "indexFormatChanged"
	FormerIndexRemoved        ViolationKind = "formerIndexRemoved"
	FormerIndexConflict       ViolationKind = "formerIndexConflict"
)

// Violation is one unsafe change between two snapshots.
type Violation struct {
	Kind ViolationKind `json:"kind"`

	// Subject is the record type or index name the violation concerns.
	Subject string `json:"subject"`

	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s(%s): %s", v.Kind, v.Subject, v.Message)
}

// Options tunes validation.
type Options struct {
	// AllowIndexRebuilds permits an index to change kind or key expression,
	// accepting that it must be rebuilt.
	AllowIndexRebuilds bool `json:"allow_index_rebuilds" yaml:"allow_index_rebuilds"`
}

// Result is the validation report. Errors are in validation order.
type Result struct {
	Valid  bool        `json:"valid"`
	Errors []Violation `json:"errors"`
}

// ByKind returns the violations of one kind.
func (r Result) ByKind(kind ViolationKind) []Violation {
	var out []Violation
	for _, v := range r.Errors {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

// Validator compares an old and a new metadata snapshot.
type Validator struct {
	old  *metadata.MetaData
	new  *metadata.MetaData
	opts Options
}

// NewValidator returns a validator for the transition old -> new. It fails if
// the version decreases, since the version orders every evolution.
func NewValidator(old, new *metadata.MetaData, opts Options) (*Validator, error) {
	if old == nil || new == nil {
		return nil, rlerrors.NewInvalidArgument("evolution requires both an old and a new snapshot")
	}
	if new.Version() < old.Version() {
		return nil, rlerrors.New(rlerrors.ErrCategoryEvolution, rlerrors.CodeVersionDecreased,
			fmt.Sprintf("metadata version decreased from %d to %d", old.Version(), new.Version())).
			WithDetails(map[string]interface{}{"old_version": old.Version(), "new_version": new.Version()})
	}
	return &Validator{old: old, new: new, opts: opts}, nil
}

// Validate collects every violation. It never fails.
func (v *Validator) Validate() Result {
	var errs []Violation
	errs = v.checkRecordTypes(errs)
	errs = v.checkIndexes(errs)
	errs = v.checkFormerIndexes(errs)
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ValidateAndThrow returns the first violation as an error, with every
// violation listed in its details.
func (v *Validator) ValidateAndThrow() error {
	res := v.Validate()
	if res.Valid {
		return nil
	}
	first := res.Errors[0]
	all := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		all[i] = e.String()
	}
	return rlerrors.New(rlerrors.ErrCategoryEvolution, rlerrors.CodeEvolutionValidationFailed, first.String()).
		WithDetails(map[string]interface{}{
			"kind":        string(first.Kind),
			"subject":     first.Subject,
			"violations":  all,
			"old_version": v.old.Version(),
			"new_version": v.new.Version(),
		})
}

// Validate constructs a validator and runs it.
func Validate(old, new *metadata.MetaData, opts Options) (Result, error) {
	v, err := NewValidator(old, new, opts)
	if err != nil {
		return Result{}, err
	}
	return v.Validate(), nil
}

// ValidateAndThrow constructs a validator and fails on the first violation.
func ValidateAndThrow(old, new *metadata.MetaData, opts Options) error {
	v, err := NewValidator(old, new, opts)
	if err != nil {
		return err
	}
	return v.ValidateAndThrow()
}

func (v *Validator) checkRecordTypes(errs []Violation) []Violation {
	renamedTo := make(map[string]*metadata.RecordType)
	for _, rt := range v.new.RecordTypes() {
		if rt.RenamedFrom != "" {
			renamedTo[rt.RenamedFrom] = rt
		}
	}

	// removals first, then key changes, so report order follows rule order
	var pkErrs []Violation
	for _, oldType := range v.old.RecordTypes() {
		newType, err := v.new.RecordType(oldType.Name)
		if err != nil {
			renamed, ok := renamedTo[oldType.Name]
			if !ok {
				errs = append(errs, Violation{
					Kind:    RecordTypeRemoved,
					Subject: oldType.Name,
					Message: fmt.Sprintf("record type %s was removed", oldType.Name),
				})
				continue
			}
			newType = renamed
		}
		if !keyexpr.Equal(oldType.PrimaryKey, newType.PrimaryKey) {
			pkErrs = append(pkErrs, Violation{
				Kind:    PrimaryKeyChanged,
				Subject: oldType.Name,
				Message: fmt.Sprintf("primary key of %s changed from %s to %s", oldType.Name, oldType.PrimaryKey, newType.PrimaryKey),
			})
		}
	}
	return append(errs, pkErrs...)
}

func (v *Validator) checkIndexes(errs []Violation) []Violation {
	var formatErrs []Violation
	for _, oldIdx := range v.old.Indexes() {
		newIdx, err := v.new.Index(oldIdx.Name)
		if err != nil {
			if !v.new.HasFormerIndex(oldIdx.Name) {
				errs = append(errs, Violation{
					Kind:    IndexRemovedWithoutFormer,
					Subject: oldIdx.Name,
					Message: fmt.Sprintf("index %s was removed without a former index", oldIdx.Name),
				})
			}
			continue
		}
		if v.opts.AllowIndexRebuilds {
			continue
		}
		switch {
		case !oldIdx.Kind.Equal(newIdx.Kind):
			formatErrs = append(formatErrs, Violation{
				Kind:    IndexFormatChanged,
				Subject: oldIdx.Name,
				Message: fmt.Sprintf("index %s changed kind from %s to %s", oldIdx.Name, oldIdx.Kind, newIdx.Kind),
			})
		case !keyexpr.Equal(oldIdx.Root, newIdx.Root):
			formatErrs = append(formatErrs, Violation{
				Kind:    IndexFormatChanged,
				Subject: oldIdx.Name,
				Message: fmt.Sprintf("index %s changed key expression from %s to %s", oldIdx.Name, oldIdx.Root, newIdx.Root),
			})
		}
	}
	return append(errs, formatErrs...)
}

func (v *Validator) checkFormerIndexes(errs []Violation) []Violation {
	for _, oldFormer := range v.old.FormerIndexes() {
		newFormer, err := v.new.FormerIndex(oldFormer.Name)
		switch {
		case err != nil:
			errs = append(errs, Violation{
				Kind:    FormerIndexRemoved,
				Subject: oldFormer.Name,
				Message: fmt.Sprintf("former index %s was removed", oldFormer.Name),
			})
		case !oldFormer.Equal(*newFormer):
			errs = append(errs, Violation{
				Kind:    FormerIndexRemoved,
				Subject: oldFormer.Name,
				Message: fmt.Sprintf("former index %s was modified", oldFormer.Name),
			})
		}
	}

	for _, idx := range v.new.Indexes() {
		if v.old.HasFormerIndex(idx.Name) {
			errs = append(errs, Violation{
				Kind:    FormerIndexConflict,
				Subject: idx.Name,
				Message: fmt.Sprintf("index %s reuses the name of a former index", idx.Name),
			})
		}
	}
	return errs
}
