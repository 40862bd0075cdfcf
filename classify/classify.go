// Package classify assigns semantic document roles to the files of a task
// workspace by matching filename patterns against an ordered rule table.
package classify

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

// Role is the semantic document type of a file.
type Role string

const (
	Settlement                   Role = "settlement"
	EInvoice                     Role = "e_invoice"
	CommercialInvoicePackingList Role = "commercial_invoice_packing_list"
	CommercialInvoice            Role = "commercial_invoice"
	PackingList                  Role = "packing_list"
	ExportCustomsDeclaration     Role = "export_customs_declaration"
	PurchaseSalesOrder           Role = "purchase_sales_order"
)

// Rule maps filenames to a role. A filename matches when its upper-cased
// form contains at least one of Any and its extension is one of Exts.
type Rule struct {
	Role  Role
	Any   []string
	Exts  []string
	Multi bool // every matching file is collected instead of keeping one
}

var spreadsheet = []string{".XLSX", ".XLS"}

// rules is evaluated top-down and the first match wins, so a rule must come
// before any broader rule that would shadow it ("CI&PKL" before "CI").
var rules = []Rule{
	{Role: Settlement, Any: []string{"SETTLE"}, Exts: spreadsheet},
	{Role: EInvoice, Any: []string{"VAT", "E-INV"}, Exts: []string{".XML"}},
	{Role: CommercialInvoicePackingList, Any: []string{"CI&PKL"}, Exts: spreadsheet},
	{Role: CommercialInvoice, Any: []string{"CI"}, Exts: spreadsheet},
	{Role: PackingList, Any: []string{"PKL"}, Exts: spreadsheet},
	{Role: ExportCustomsDeclaration, Any: []string{"TKX"}, Exts: spreadsheet, Multi: true},
	{Role: PurchaseSalesOrder, Any: []string{"PO", "SO", "PC", "SC"}, Exts: spreadsheet},
}

// Rules returns a copy of the rule table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Matches reports whether filename satisfies the rule.
func (r Rule) Matches(filename string) bool {
	base := filepath.Base(filename)
	ext := strings.ToUpper(filepath.Ext(base))
	if !contains(r.Exts, ext) {
		return false
	}
	upper := strings.ToUpper(base)
	for _, s := range r.Any {
		if strings.Contains(upper, s) {
			return true
		}
	}
	return false
}

// Match returns the role of the first rule filename satisfies.
func Match(filename string) (Rule, bool) {
	for _, r := range rules {
		if r.Matches(filename) {
			return r, true
		}
	}
	return Rule{}, false
}

// Result maps each matched role to its file names.
type Result map[Role][]string

// Filename returns the file for a single-valued role.
func (r Result) Filename(role Role) string {
	if names := r[role]; len(names) > 0 {
		return names[len(names)-1]
	}
	return ""
}

// Filenames returns every file classified under role.
func (r Result) Filenames(role Role) []string { return r[role] }

// MarshalJSON renders single-valued roles as a string and multi-valued
// roles as an array.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[Role]any, len(r))
	for role, names := range r {
		if isMulti(role) {
			out[role] = names
			continue
		}
		out[role] = r.Filename(role)
	}
	return json.Marshal(out)
}

// Classify assigns a role to each filename. Files are visited in sorted
// order; for single-valued roles the last match is kept. Unmatched files
// are left out of the result.
func Classify(filenames []string) Result {
	names := make([]string, 0, len(filenames))
	for _, f := range filenames {
		names = append(names, filepath.Base(f))
	}
	sort.Strings(names)

	result := make(Result)
	for _, name := range names {
		rule, ok := Match(name)
		if !ok {
			slog.Debug("classify: no rule matched", "file", name)
			continue
		}
		if rule.Multi {
			result[rule.Role] = append(result[rule.Role], name)
		} else {
			result[rule.Role] = []string{name}
		}
		slog.Debug("classify: matched", "file", name, "role", rule.Role)
	}
	return result
}

func isMulti(role Role) bool {
	for _, r := range rules {
		if r.Role == role {
			return r.Multi
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
