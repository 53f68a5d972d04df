package assoc

import (
	"fmt"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
)

// CreateAssociationField creates an association field on the owner type,
// auto-generating a linking type between owner and target. The linking type
// carries two cascading reference fields named after the endpoint types,
// with a numeric suffix when both endpoints are the same type.
func (r *Resolver) CreateAssociationField(ownerKID kid.KID, apiName string, targetKID kid.KID) (*meta.Field, error) {
	owner, err := r.reg.GetType(ownerKID)
	if err != nil {
		return nil, err
	}
	target, err := r.reg.GetType(targetKID)
	if err != nil {
		return nil, err
	}

	link, selfField, foreignField, err := r.CreateLinkingType(owner, target)
	if err != nil {
		return nil, err
	}
	field, err := r.reg.CreateField(ownerKID, meta.FieldSpec{
		APIName:         apiName,
		Kind:            meta.DataTypeAssociation,
		RefTypeKID:      targetKID,
		LinkTypeKID:     link.KID,
		SelfFieldKID:    selfField.KID,
		ForeignFieldKID: foreignField.KID,
	})
	if err != nil {
		// The linking type was committed separately; remove it so a failed
		// field creation leaves no orphan.
		_ = r.reg.DeleteType(link.KID)
		return nil, err
	}
	return field, nil
}

// CreateLinkingType auto-generates the two-reference linking type for an
// association between owner and target. The type name joins both endpoint
// names; an existing linking type of the same name pushes a numeric suffix
// ("PigeonPigeon", then "PigeonPigeon1").
func (r *Resolver) CreateLinkingType(owner, target *meta.Type) (*meta.Type, *meta.Field, *meta.Field, error) {
	selfName := lowerFirst(owner.APIName)
	foreignName := lowerFirst(target.APIName)
	if foreignName == selfName {
		foreignName = selfName + "1"
	}

	base := owner.APIName + target.APIName
	name := base
	for n := 1; ; n++ {
		if _, err := r.reg.GetTypeByName(owner.Package + "." + name); err != nil {
			if errdef.IsSyntaxErr(err) || errdef.IsNotFoundErr(err) {
				break
			}
			return nil, nil, nil, err
		}
		name = fmt.Sprintf("%s%d", base, n)
	}

	link, err := r.reg.CreateType(meta.TypeSpec{
		Package: owner.Package,
		APIName: name,
		Label:   owner.Label + " / " + target.Label,
		Fields: []meta.FieldSpec{
			{
				APIName: selfName, Kind: meta.DataTypeReference,
				RefTypeKID: owner.KID, CascadeDelete: true, AutoGenerated: true,
			},
			{
				APIName: foreignName, Kind: meta.DataTypeReference,
				RefTypeKID: target.KID, CascadeDelete: true, AutoGenerated: true,
			},
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return link, link.Field(selfName), link.Field(foreignName), nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] = b[0] - 'A' + 'a'
	}
	return string(b)
}
