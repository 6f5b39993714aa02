package evolution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/metadata"
)

func baseBuilder() *metadata.Builder {
	return metadata.NewBuilder().
		SetVersion(1).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")).
		AddIndex(metadata.NewValueIndex("order_total", keyexpr.Field("total"), "Order"))
}

func build(t *testing.T, b *metadata.Builder) *metadata.MetaData {
	t.Helper()
	md, err := b.Build()
	require.NoError(t, err)
	return md
}

func validate(t *testing.T, old, new *metadata.MetaData, opts Options) Result {
	t.Helper()
	res, err := Validate(old, new, opts)
	require.NoError(t, err)
	return res
}

func TestValidate_IdenticalSnapshotsAreValid(t *testing.T) {
	old := build(t, baseBuilder())
	res := validate(t, old, build(t, baseBuilder().SetVersion(2)), Options{})
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidate_RecordTypeRemoved(t *testing.T) {
	old := build(t, baseBuilder().AddRecordType(metadata.NewRecordType("Audit", keyexpr.Field("id"))))
	new := build(t, baseBuilder().SetVersion(2))

	res := validate(t, old, new, Options{})
	assert.False(t, res.Valid)
	removed := res.ByKind(RecordTypeRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, "Audit", removed[0].Subject)
	assert.Len(t, res.Errors, 1)
}

func TestValidate_RecordTypeAddedIsAllowed(t *testing.T) {
	old := build(t, baseBuilder())
	new := build(t, baseBuilder().SetVersion(2).AddRecordType(metadata.NewRecordType("Invoice", keyexpr.Field("id"))))
	assert.True(t, validate(t, old, new, Options{}).Valid)
}

func TestValidate_RecordTypeRename(t *testing.T) {
	old := build(t, baseBuilder().AddRecordType(metadata.NewRecordType("Customer", keyexpr.Field("id"))))

	renamed := metadata.NewRecordType("Client", keyexpr.Field("id"))
	renamed.RenamedFrom = "Customer"
	new := build(t, baseBuilder().SetVersion(2).AddRecordType(renamed))
	assert.True(t, validate(t, old, new, Options{}).Valid)

	rekeyed := metadata.NewRecordType("Client", keyexpr.Field("uuid"))
	rekeyed.RenamedFrom = "Customer"
	res := validate(t, old, build(t, baseBuilder().SetVersion(2).AddRecordType(rekeyed)), Options{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PrimaryKeyChanged, res.Errors[0].Kind)
}

func TestValidate_PrimaryKeyChanged(t *testing.T) {
	old := build(t, baseBuilder())
	new := build(t, metadata.NewBuilder().
		SetVersion(2).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Concat(keyexpr.Field("tenant"), keyexpr.Field("id")))).
		AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")).
		AddIndex(metadata.NewValueIndex("order_total", keyexpr.Field("total"), "Order")))

	res := validate(t, old, new, Options{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PrimaryKeyChanged, res.Errors[0].Kind)
	assert.Equal(t, "User", res.Errors[0].Subject)
}

func TestValidate_IndexRemovedWithoutFormer(t *testing.T) {
	old := build(t, baseBuilder())
	new := build(t, metadata.NewBuilder().
		SetVersion(2).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")))

	res := validate(t, old, new, Options{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, IndexRemovedWithoutFormer, res.Errors[0].Kind)
	assert.Equal(t, "order_total", res.Errors[0].Subject)
}

func TestValidate_IndexRemovedWithFormerIsValid(t *testing.T) {
	old := build(t, baseBuilder())
	new, err := old.RemoveIndexAsFormer("order_total", 1, 2)
	require.NoError(t, err)

	assert.True(t, validate(t, old, new, Options{}).Valid)
}

func TestValidate_IndexFormatChanged(t *testing.T) {
	old := build(t, baseBuilder())

	rank := metadata.NewValueIndex("order_total", keyexpr.Field("total"), "Order")
	rank.Kind = metadata.Kind(metadata.IndexRank)
	newB := metadata.NewBuilder().
		SetVersion(2).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Concat(keyexpr.Field("domain"), keyexpr.Field("email")), "User")).
		AddIndex(rank)
	new := build(t, newB)

	res := validate(t, old, new, Options{})
	changed := res.ByKind(IndexFormatChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, "user_email", changed[0].Subject)
	assert.Equal(t, "order_total", changed[1].Subject)

	assert.True(t, validate(t, old, new, Options{AllowIndexRebuilds: true}).Valid)
}

func TestValidate_FormerIndexRemovedOrMutated(t *testing.T) {
	v1 := build(t, baseBuilder())
	v2, err := v1.RemoveIndexAsFormer("order_total", 1, 2)
	require.NoError(t, err)

	// tombstone dropped in v3 even though the index never comes back
	v3 := build(t, metadata.NewBuilder().
		SetVersion(3).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")))
	res := validate(t, v2, v3, Options{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, FormerIndexRemoved, res.Errors[0].Kind)

	// tombstone edited in place
	v3b := build(t, metadata.NewBuilder().
		SetVersion(3).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")).
		AddFormerIndex(metadata.FormerIndex{Name: "order_total", AddedVersion: 1, RemovedVersion: 3}))
	res = validate(t, v2, v3b, Options{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, FormerIndexRemoved, res.Errors[0].Kind)
	assert.Equal(t, "order_total", res.Errors[0].Subject)
}

func TestValidate_FormerIndexConflict(t *testing.T) {
	v1 := build(t, baseBuilder())
	v2, err := v1.RemoveIndexAsFormer("order_total", 1, 2)
	require.NoError(t, err)

	v3 := build(t, baseBuilder().SetVersion(3))
	res := validate(t, v2, v3, Options{})

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, FormerIndexRemoved, res.Errors[0].Kind)
	assert.Equal(t, FormerIndexConflict, res.Errors[1].Kind)
	assert.Equal(t, "order_total", res.Errors[1].Subject)
}

func TestValidate_CollectsAllViolationsInOrder(t *testing.T) {
	old := build(t, baseBuilder().AddRecordType(metadata.NewRecordType("Audit", keyexpr.Field("id"))))
	new := build(t, metadata.NewBuilder().
		SetVersion(2).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("uid"))).
		AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))))

	res := validate(t, old, new, Options{})
	kinds := make([]ViolationKind, len(res.Errors))
	for i, e := range res.Errors {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []ViolationKind{
		RecordTypeRemoved,
		PrimaryKeyChanged,
		IndexRemovedWithoutFormer,
		IndexRemovedWithoutFormer,
	}, kinds)
}

func TestNewValidator_VersionDecrease(t *testing.T) {
	old := build(t, baseBuilder().SetVersion(5))
	new := build(t, baseBuilder().SetVersion(4))

	v, err := NewValidator(old, new, Options{})
	require.Error(t, err)
	assert.Nil(t, v)
	assert.True(t, errors.Is(err, rlerrors.ErrVersionDecreased))

	_, err = Validate(old, new, Options{})
	assert.True(t, errors.Is(err, rlerrors.ErrVersionDecreased))
}

func TestValidateAndThrow(t *testing.T) {
	old := build(t, baseBuilder().AddRecordType(metadata.NewRecordType("Audit", keyexpr.Field("id"))))
	new := build(t, baseBuilder().SetVersion(2))

	err := ValidateAndThrow(old, new, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rlerrors.ErrEvolutionValidationFailed))

	var rle *rlerrors.RecordLayerError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, string(RecordTypeRemoved), rle.Details["kind"])
	assert.Equal(t, "Audit", rle.Details["subject"])

	assert.NoError(t, ValidateAndThrow(old, old, Options{}))
}
