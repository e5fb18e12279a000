package rbac

// Tier is a privilege tier. Its numeric value equals the hierarchy level of
// the canonical role; lower is more privileged.
type Tier int

const (
	TierSuperAdmin Tier = iota
	TierAdmin
	TierManager
	TierUser
	TierSubuser
)

type tierSpec struct {
	name      string
	bypassAll bool
}

var tiers = [...]tierSpec{
	TierSuperAdmin: {name: "SuperAdmin", bypassAll: true},
	TierAdmin:      {name: "Admin"},
	TierManager:    {name: "Manager"},
	TierUser:       {name: "User"},
	TierSubuser:    {name: "Subuser"},
}

// Valid reports whether t is a defined tier.
func (t Tier) Valid() bool {
	return t >= TierSuperAdmin && int(t) < len(tiers)
}

// Name is the canonical role name of the tier.
func (t Tier) Name() string {
	if !t.Valid() {
		return ""
	}
	return tiers[t].name
}

func (t Tier) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	return tiers[t].name
}

// BypassAll reports whether holders of this tier pass every permission check.
func (t Tier) BypassAll() bool {
	return t.Valid() && tiers[t].bypassAll
}

// Level is the hierarchy level of the tier's canonical role.
func (t Tier) Level() int {
	return int(t)
}

// TierForLevel maps a hierarchy level onto a tier.
func TierForLevel(level int) (Tier, bool) {
	t := Tier(level)
	return t, t.Valid()
}

// TierByName matches canonical role names exactly.
func TierByName(name string) (Tier, bool) {
	for i, spec := range tiers {
		if spec.name == name {
			return Tier(i), true
		}
	}
	return 0, false
}
