package model

const sideDefDoc = "" +
	"//\n" +
	"// resctld side/sysload definitions\n" +
	"//\n" +
	"//  DEF_ID.args[]: Command arguments\n" +
	"//  DEF_ID.frozen_exp: Sideloader frozen expiration duration (seconds)\n" +
	"//\n"

// SideloadSpec names the binary+args a sideload/sysload definition
// launches and how long it may stay frozen before being killed.
type SideloadSpec struct {
	Args      []string `json:"args"`
	FrozenExp uint32   `json:"frozen_exp"`
}

// SideloadDefs is the sideload-defs.json document: a flat map from
// definition id to spec.
type SideloadDefs struct {
	Defs map[string]SideloadSpec `json:"-"`
}

// Preamble implements jsonfile.Documented.
func (SideloadDefs) Preamble() string { return sideDefDoc }

// MarshalJSON flattens Defs to the top level, matching the upstream
// serde(flatten) representation.
func (d SideloadDefs) MarshalJSON() ([]byte, error) {
	return marshalFlatStringMap(d.Defs)
}

// UnmarshalJSON reads a flat {id: spec, ...} object into Defs.
func (d *SideloadDefs) UnmarshalJSON(b []byte) error {
	m, err := unmarshalFlatStringMap[SideloadSpec](b)
	if err != nil {
		return err
	}
	d.Defs = m
	return nil
}

// DefaultSideloadDefs reproduces the upstream catalog of ready-made
// sideload/sysload definitions (build-linux at various parallelism
// levels, memory-growth probes, and a tar-bomb stress job).
func DefaultSideloadDefs() SideloadDefs {
	return SideloadDefs{Defs: map[string]SideloadSpec{
		"build-linux-half":      {Args: []string{"build-linux.sh", "1", "2"}, FrozenExp: 300},
		"build-linux-1x":        {Args: []string{"build-linux.sh", "1"}, FrozenExp: 300},
		"build-linux-2x":        {Args: []string{"build-linux.sh", "2"}, FrozenExp: 300},
		"build-linux-4x":        {Args: []string{"build-linux.sh", "4"}, FrozenExp: 300},
		"build-linux-8x":        {Args: []string{"build-linux.sh", "8"}, FrozenExp: 300},
		"build-linux-16x":       {Args: []string{"build-linux.sh", "16"}, FrozenExp: 300},
		"build-linux-32x":       {Args: []string{"build-linux.sh", "32"}, FrozenExp: 300},
		"build-linux-unlimited": {Args: []string{"build-linux.sh"}, FrozenExp: 300},
		"memory-growth-10pct":   {Args: []string{"memory-growth.py", "15%", "10%"}, FrozenExp: 60},
		"memory-growth-25pct":   {Args: []string{"memory-growth.py", "30%", "25%"}, FrozenExp: 60},
		"memory-growth-50pct":   {Args: []string{"memory-growth.py", "55%", "50%"}, FrozenExp: 60},
		"tar-bomb":              {Args: []string{"tar-bomb.sh"}, FrozenExp: 60},
	}}
}
