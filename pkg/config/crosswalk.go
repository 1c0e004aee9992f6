package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/preventera/safetygraph/pkg/apperrors"
)

// Crosswalk maps source-specific classification codes to the canonical
// taxonomies. Read-only reference data, loaded once at orchestrator
// start. Tables are keyed by (code system, source code).
type Crosswalk struct {
	Version  string                       `yaml:"version"`
	Industry map[string]map[string]string `yaml:"industry"`  // system -> code -> canonical NACE code
	Injury   map[string]map[string]string `yaml:"injury"`    // system -> code -> canonical injury code
	BodyPart map[string]map[string]string `yaml:"body_part"` // system -> code -> canonical body part code
}

// LoadCrosswalk reads the crosswalk document. A missing file falls
// back to the compiled-in default tables.
func LoadCrosswalk(path string) (*Crosswalk, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultCrosswalk(), nil
	}
	if err != nil {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	var cw Crosswalk
	if err := yaml.Unmarshal(data, &cw); err != nil {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}
	if len(cw.Industry) == 0 {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("%s has no industry table", path)}
	}
	return &cw, nil
}

// LookupIndustry resolves a source industry code to its canonical
// code. It tries the exact code first, then progressively shorter
// parent prefixes, since most industry taxonomies are hierarchical
// (a miss on NAICS 23821 should still hit the 238 or 23 parent).
func (c *Crosswalk) LookupIndustry(system, code string) (string, bool) {
	return lookupHierarchical(c.Industry[system], code)
}

// LookupInjury resolves a source injury-nature code to its canonical
// code, with the same parent-prefix fallback.
func (c *Crosswalk) LookupInjury(system, code string) (string, bool) {
	return lookupHierarchical(c.Injury[system], code)
}

// LookupBodyPart resolves a source body-part code to its canonical code.
func (c *Crosswalk) LookupBodyPart(system, code string) (string, bool) {
	return lookupHierarchical(c.BodyPart[system], code)
}

func lookupHierarchical(table map[string]string, code string) (string, bool) {
	if len(table) == 0 || code == "" {
		return "", false
	}
	if v, ok := table[code]; ok {
		return v, true
	}
	for l := len(code) - 1; l >= 1; l-- {
		if v, ok := table[code[:l]]; ok {
			return v, true
		}
	}
	return "", false
}

// DefaultCrosswalk returns the compiled-in concordance tables. These
// cover the source systems shipped in sources.yaml; deployments with
// additional sources supply their own crosswalk.yaml.
func DefaultCrosswalk() *Crosswalk {
	scianToNACE := map[string]string{
		"11":     "A01",
		"21":     "B",
		"23":     "F",
		"236":    "F41",
		"238":    "F43",
		"23821":  "F4321",
		"2211":   "D351",
		"221122": "D3513",
		"31":     "C",
		"32":     "C",
		"33":     "C",
		"332":    "C25",
		"484":    "H49",
		"62":     "Q86",
	}

	return &Crosswalk{
		Version: "builtin",
		Industry: map[string]map[string]string{
			// NAICS and SCIAN share the same numbering.
			"NAICS": scianToNACE,
			"SCIAN": scianToNACE,
			// NACE sources are already canonical; identity entries for
			// the section letters keep the hierarchical lookup total.
			"NACE_REV2": {
				"A": "A", "B": "B", "C": "C", "D": "D", "E": "E",
				"F": "F", "G": "G", "H": "H", "Q": "Q86",
			},
			"NAF": {
				"F": "F", "43": "F43", "41": "F41",
			},
			"ISIC": {
				"F": "F", "41": "F41", "43": "F43", "01": "A01",
			},
		},
		Injury: map[string]map[string]string{
			"OSHA": {
				"121": "NAT-01", // fracture
				"122": "NAT-05", // amputation
				"211": "NAT-02", // sprain/strain
				"212": "NAT-10", // MSD
				"131": "NAT-03", // contusion
				"111": "NAT-04", // cut/laceration
				"321": "NAT-06", // thermal burn
				"322": "NAT-07", // chemical burn
				"323": "NAT-08", // electrical burn
				"331": "NAT-09", // electrocution
				"341": "NAT-11", // poisoning
				"342": "NAT-12", // asphyxiation
				"999": "NAT-99", // fatality
			},
		},
		BodyPart: map[string]map[string]string{
			"OSHA": {
				"1":  "BP-01", // head
				"12": "BP-02", // eye
				"2":  "BP-03", // neck
				"32": "BP-04", // back
				"41": "BP-05", // shoulder
				"42": "BP-06", // arm
				"44": "BP-07", // hand
				"45": "BP-08", // finger
				"31": "BP-09", // chest
				"33": "BP-10", // abdomen
				"51": "BP-11", // pelvis/hip
				"52": "BP-12", // leg
				"53": "BP-13", // knee
				"54": "BP-14", // foot
				"55": "BP-15", // toe
				"8":  "BP-90", // whole body
			},
		},
	}
}
