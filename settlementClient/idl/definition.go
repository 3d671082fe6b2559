package idl

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Definition is an Anchor-style program interface description.
type Definition struct {
	Address      string           `json:"address"`
	Metadata     Metadata         `json:"metadata"`
	Instructions []InstructionDef `json:"instructions"`
	Accounts     []AccountDef     `json:"accounts,omitempty"`
	Types        json.RawMessage  `json:"types,omitempty"`
}

type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Spec    string `json:"spec"`
}

// InstructionDef describes one callable instruction.
type InstructionDef struct {
	Name          string        `json:"name"`
	Discriminator Discriminator `json:"discriminator"`
	Accounts      []AccountMeta `json:"accounts"`
	Args          []Field       `json:"args"`
}

// AccountMeta is an account slot of an instruction. Address is set for fixed accounts
// such as the system program.
type AccountMeta struct {
	Name     string `json:"name"`
	Writable bool   `json:"writable,omitempty"`
	Signer   bool   `json:"signer,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Address  string `json:"address,omitempty"`
}

type AccountDef struct {
	Name          string        `json:"name"`
	Discriminator Discriminator `json:"discriminator"`
}

// Field is a named argument.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Discriminator is the 8-byte instruction selector prefixed to instruction data.
type Discriminator [8]byte

// IsZero reports whether the discriminator was left out of the definition.
func (d Discriminator) IsZero() bool {
	return d == Discriminator{}
}

// InstructionDiscriminator computes sha256("global:<name>")[:8].
func InstructionDiscriminator(name string) Discriminator {
	sum := sha256.Sum256([]byte("global:" + name))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

// FieldType is either a primitive ("u64", "pubkey") or a fixed array of a primitive.
type FieldType struct {
	Primitive string
	Elem      string
	Len       int
}

// UnmarshalJSON accepts "u64" or {"array": ["u8", 64]}.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var primitive string
	if err := json.Unmarshal(data, &primitive); err == nil {
		t.Primitive = primitive
		return nil
	}

	var composite struct {
		Array []json.RawMessage `json:"array"`
	}
	if err := json.Unmarshal(data, &composite); err != nil {
		return fmt.Errorf("unsupported field type %s", string(data))
	}
	if len(composite.Array) != 2 {
		return fmt.Errorf("unsupported field type %s", string(data))
	}
	if err := json.Unmarshal(composite.Array[0], &t.Elem); err != nil {
		return fmt.Errorf("array element type: %w", err)
	}
	if err := json.Unmarshal(composite.Array[1], &t.Len); err != nil {
		return fmt.Errorf("array length: %w", err)
	}
	return nil
}

func (t FieldType) MarshalJSON() ([]byte, error) {
	if t.Elem != "" {
		return json.Marshal(map[string][]interface{}{"array": {t.Elem, t.Len}})
	}
	return json.Marshal(t.Primitive)
}

func (t FieldType) String() string {
	if t.Elem != "" {
		return fmt.Sprintf("[%s;%d]", t.Elem, t.Len)
	}
	return t.Primitive
}

var primitiveWidths = map[string]int{
	"bool":   1,
	"u8":     1,
	"i8":     1,
	"u16":    2,
	"i16":    2,
	"u32":    4,
	"i32":    4,
	"u64":    8,
	"i64":    8,
	"u128":   16,
	"i128":   16,
	"pubkey": 32,
}

// Width returns the encoded byte width and false for variable-length types.
func (t FieldType) Width() (int, bool) {
	if t.Elem != "" {
		w, ok := primitiveWidths[t.Elem]
		if !ok {
			return 0, false
		}
		return w * t.Len, true
	}
	w, ok := primitiveWidths[t.Primitive]
	return w, ok
}

// Instruction looks an instruction up by name.
func (d *Definition) Instruction(name string) (*InstructionDef, bool) {
	for i := range d.Instructions {
		if d.Instructions[i].Name == name {
			return &d.Instructions[i], true
		}
	}
	return nil, false
}

// ArgsSize returns the total argument width of an instruction. The second result is
// false when any argument is variable length or the instruction is unknown.
func (d *Definition) ArgsSize(name string) (int, bool) {
	ix, ok := d.Instruction(name)
	if !ok {
		return 0, false
	}
	total := 0
	for _, arg := range ix.Args {
		w, fixed := arg.Type.Width()
		if !fixed {
			return 0, false
		}
		total += w
	}
	return total, true
}

// normalize fills in discriminators that the definition file left out.
func (d *Definition) normalize() {
	for i := range d.Instructions {
		if d.Instructions[i].Discriminator.IsZero() {
			d.Instructions[i].Discriminator = InstructionDiscriminator(d.Instructions[i].Name)
		}
	}
}
