package scipindex

import (
	"fmt"
	"strings"
)

// symbolID is a parsed SCIP symbol.
// Format: <scheme> <manager> <package> [<version>] <descriptor>
//
//	scip-go gomod example.com/billing v1.2.0 `example.com/billing/store`/Ledger#
//	scip-typescript npm @acme/billing 1.0.0 src/`ledger.ts`/BillingLedger#
type symbolID struct {
	Scheme     string
	Manager    string
	Package    string
	Descriptor string
}

func parseSymbol(id string) (*symbolID, error) {
	if id == "" || strings.HasPrefix(id, "local ") {
		return nil, fmt.Errorf("not a global symbol: %q", id)
	}
	parts := strings.SplitN(id, " ", 5)
	if len(parts) < 4 {
		return nil, fmt.Errorf("invalid SCIP symbol: %q", id)
	}
	s := &symbolID{Scheme: parts[0], Manager: parts[1], Package: parts[2]}
	if len(parts) == 4 {
		s.Descriptor = parts[3]
	} else {
		s.Descriptor = parts[4]
	}
	return s, nil
}

// simpleName returns the last descriptor component without suffix markers.
//
//	"`example.com/billing/store`/Ledger#"   -> "Ledger"
//	"process.env.NODE_ENV."                 -> "NODE_ENV"
//	"`example.com/billing`/NewStore()."     -> "NewStore"
func (s *symbolID) simpleName() string {
	d := strings.TrimSuffix(s.Descriptor, ".")
	d = strings.TrimSuffix(d, "#")
	d = strings.TrimSuffix(d, "()")
	d = strings.TrimSuffix(d, ".")

	if i := strings.LastIndex(d, "`"); i >= 0 && i < len(d)-1 {
		d = d[i+1:]
	}
	if i := strings.LastIndexAny(d, "/#."); i >= 0 {
		d = d[i+1:]
	}
	return strings.TrimSuffix(strings.Trim(d, "`"), "()")
}

// container returns the package-level owner of the symbol, used to tell
// same-named symbols apart.
func (s *symbolID) container() string {
	d := s.Descriptor
	if i := strings.Index(d, "`"); i >= 0 {
		if j := strings.Index(d[i+1:], "`"); j >= 0 {
			return s.Package + " " + d[i+1:i+1+j]
		}
	}
	return s.Package
}
