package sqlpool

import (
	"fmt"
	"sync"

	"github.com/jlucas-labs/sqlpool/internal/dsn"
)

// DriverBuilder turns a parsed DSN into the RawSessionFactory and
// TransientClassifier OpenDSN needs to build a Pool. Driver packages
// (drivers/sqldriver, drivers/remote) register themselves under a name via
// RegisterDriver, the same way database/sql drivers register themselves
// with sql.Register: a caller that wants a given driver blank-imports its
// package.
type DriverBuilder func(parsed *dsn.Parsed) (RawSessionFactory, TransientClassifier, error)

var (
	driverRegistryMu sync.Mutex
	driverRegistry   = make(map[string]DriverBuilder)
)

// RegisterDriver makes a driver available to OpenDSN under name. Calling
// RegisterDriver twice with the same name panics, matching database/sql's
// own sql.Register contract.
func RegisterDriver(name string, builder DriverBuilder) {
	driverRegistryMu.Lock()
	defer driverRegistryMu.Unlock()
	if _, exists := driverRegistry[name]; exists {
		panic("sqlpool: RegisterDriver called twice for driver " + name)
	}
	driverRegistry[name] = builder
}

// OpenDSN is a convenience constructor: it parses dsnString, resolves the
// RawSessionFactory and TransientClassifier from the driver named in the
// DSN (or registered by whichever drivers package the caller imported),
// and calls NewPool. It adds no semantics beyond NewPool.
func OpenDSN(dsnString string, cfg Config) (*Pool, error) {
	parsed, err := dsn.Parse(dsnString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	driverRegistryMu.Lock()
	builder, ok := driverRegistry[parsed.Driver]
	driverRegistryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no driver registered for %q (blank-import its drivers/* package)", ErrDriverDiscoveryFailed, parsed.Driver)
	}

	factory, classifier, err := builder(parsed)
	if err != nil {
		return nil, err
	}

	return NewPool(factory, classifier, cfg)
}
