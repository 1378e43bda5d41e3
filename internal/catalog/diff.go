package catalog

// ChangeType classifies one field difference.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// FieldChange is one detected difference between the stored product and a
// fresh transform.
type FieldChange struct {
	Path     string     `json:"path"`
	OldValue any        `json:"oldValue"`
	NewValue any        `json:"newValue"`
	Type     ChangeType `json:"changeType"`
}

// ChangeSet is the diff over the fixed comparison field set.
type ChangeSet struct {
	HasChanges    bool          `json:"hasChanges"`
	ChangedFields []string      `json:"changedFields"`
	Details       []FieldChange `json:"changeDetails"`
}

// DetectChanges diffs a freshly transformed product against the stored row.
// Strings compare trimmed, numbers by value, timestamps by instant,
// localized values across both languages. A strictly newer collect time
// counts as a change on its own; an older or equal one never does, so a
// stale upstream row cannot dirty a product by itself.
func DetectChanges(newP, oldP *Product) ChangeSet {
	var cs ChangeSet

	add := func(path string, oldVal, newVal any, ct ChangeType) {
		cs.ChangedFields = append(cs.ChangedFields, path)
		cs.Details = append(cs.Details, FieldChange{
			Path:     path,
			OldValue: oldVal,
			NewValue: newVal,
			Type:     ct,
		})
	}

	localized := func(path string, oldLT, newLT *LocalizedText) {
		oldNull := oldLT == nil || oldLT.Empty()
		newNull := newLT == nil || newLT.Empty()

		switch {
		case oldNull && newNull:
		case oldNull:
			add(path, nil, *newLT, ChangeAdded)
		case newNull:
			add(path, *oldLT, nil, ChangeRemoved)
		case !localizedEqual(*oldLT, *newLT):
			add(path, *oldLT, *newLT, ChangeModified)
		}
	}

	str := func(path, oldS, newS string) {
		oldNull := oldS == ""
		newNull := newS == ""

		switch {
		case oldNull && newNull:
		case oldNull:
			add(path, nil, newS, ChangeAdded)
		case newNull:
			add(path, oldS, nil, ChangeRemoved)
		case !trimEqual(oldS, newS):
			add(path, oldS, newS, ChangeModified)
		}
	}

	optFloat := func(path string, oldF, newF *float64) {
		switch {
		case oldF == nil && newF == nil:
		case oldF == nil:
			add(path, nil, *newF, ChangeAdded)
		case newF == nil:
			add(path, *oldF, nil, ChangeRemoved)
		case *oldF != *newF:
			add(path, *oldF, *newF, ChangeModified)
		}
	}

	localized("name", &oldP.Name, &newP.Name)
	localized("category.primary", oldP.Category.Primary, newP.Category.Primary)
	localized("category.secondary", oldP.Category.Secondary, newP.Category.Secondary)

	if oldP.Price.Normal != newP.Price.Normal {
		add("price.normal", oldP.Price.Normal, newP.Price.Normal, ChangeModified)
	}

	optFloat("price.discount", oldP.Price.Discount, newP.Price.Discount)

	localized("platform", oldP.Platform, newP.Platform)
	localized("specification", oldP.Specification, newP.Specification)
	localized("flavor", oldP.Flavor, newP.Flavor)
	localized("manufacturer", oldP.Manufacturer, newP.Manufacturer)
	localized("origin.country", oldP.Origin.Country, newP.Origin.Country)
	localized("origin.province", oldP.Origin.Province, newP.Origin.Province)
	localized("origin.city", oldP.Origin.City, newP.Origin.City)

	if newP.CollectTime.After(oldP.CollectTime) {
		ct := ChangeModified
		if oldP.CollectTime.IsZero() {
			ct = ChangeAdded
		}

		add("collectTime", oldP.CollectTime, newP.CollectTime, ct)
	}

	for _, it := range ImageTypes {
		str("images."+string(it), oldP.Images.URL(it), newP.Images.URL(it))
	}

	cs.HasChanges = len(cs.Details) > 0

	return cs
}

func localizedEqual(a, b LocalizedText) bool {
	return trimEqual(a.English, b.English) && trimEqual(a.Chinese, b.Chinese)
}
