// Package monitor checks request bodies against the JSON contracts of the
// processing protocol.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Contract names.
const (
	PaymentResourceContract = "payment-resource"
	PaymentContract         = "payment"
)

// ContractMonitor validates request bodies against one compiled JSON schema.
type ContractMonitor struct {
	name   string
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles schema, a JSON schema document.
func NewContractMonitor(name, schema string) (*ContractMonitor, error) {
	return compile(name, gojsonschema.NewStringLoader(schema))
}

// LoadContractMonitor compiles the schema stored at schemaPath, an absolute
// path or one relative to the working directory.
func LoadContractMonitor(schemaPath string) (*ContractMonitor, error) {
	return compile(schemaPath, gojsonschema.NewReferenceLoader("file://"+schemaPath))
}

func compile(name string, loader gojsonschema.JSONLoader) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{name: name, schema: schema}, nil
}

// Name returns the contract name.
func (cm *ContractMonitor) Name() string {
	return cm.name
}

// Validate reports whether body satisfies the contract. Violations are listed
// one per entry; err is set only when body could not be parsed at all.
func (cm *ContractMonitor) Validate(body []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors joins violations into a single message.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(violations, "; ")
}

// ViolationError is returned by Contracts.Check for a body breaking its contract.
type ViolationError struct {
	Contract   string
	Violations []string
}

func (e *ViolationError) Error() string {
	return e.Contract + ": " + FormatErrors(e.Violations)
}

// Contracts is a set of monitors by contract name.
type Contracts map[string]*ContractMonitor

// DefaultContracts compiles the request contracts of the processing protocol.
func DefaultContracts() (Contracts, error) {
	out := Contracts{}
	for name, schema := range map[string]string{
		PaymentResourceContract: paymentResourceSchema,
		PaymentContract:         paymentSchema,
	} {
		cm, err := NewContractMonitor(name, schema)
		if err != nil {
			return nil, err
		}
		out[name] = cm
	}
	return out, nil
}

// Check validates body against the named contract. Unknown contracts pass.
func (c Contracts) Check(name string, body []byte) error {
	cm, ok := c[name]
	if !ok {
		return nil
	}
	valid, violations, err := cm.Validate(body)
	if err != nil {
		return &ViolationError{Contract: name, Violations: []string{err.Error()}}
	}
	if !valid {
		return &ViolationError{Contract: name, Violations: violations}
	}
	return nil
}
