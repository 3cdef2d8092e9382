package catalog

import (
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/ledger"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/registry"
)

// Settings tune the per-kind rules that differ between deployments.
type Settings struct {
	// MaxObjects caps how many objects of a kind one owner may hold.
	// Missing or zero entries are unlimited.
	MaxObjects map[kind.Kind]int `yaml:"maxObjects"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxObjects: map[kind.Kind]int{
			kind.Note:         1000,
			kind.Tag:          500,
			kind.Comment:      10000,
			kind.BookmarkList: 50,
		},
	}
}

func (s Settings) cap(k kind.Kind) func(owner perm.Owner) int {
	n := s.MaxObjects[k]
	if n <= 0 {
		return nil
	}
	return func(perm.Owner) int { return n }
}

// New builds the registry holding every kind of the platform.
func New(settings Settings) (*registry.Registry, error) {
	note := noteDescriptor(settings)
	version := noteVersionDescriptor()

	versions := ledger.New(version, note)
	attachNoteHooks(note, versions)
	attachNoteVersionHooks(version, versions)

	return registry.New(
		userDescriptor(),
		organizationDescriptor(),
		memberDescriptor(),
		tagDescriptor(settings),
		note,
		version,
		commentDescriptor(settings),
		bookmarkListDescriptor(settings),
		bookmarkDescriptor(),
		reactionDescriptor(),
		reactionSummaryDescriptor(),
		viewDescriptor(),
	)
}

// MustNew is New for callers that cannot recover from a broken catalog.
func MustNew(settings Settings) *registry.Registry {
	reg, err := New(settings)
	if err != nil {
		panic(err)
	}
	return reg
}
