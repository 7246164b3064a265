package render

import (
	"fmt"
	"path"

	"github.com/szaher/repoview/internal/repo"
)

// LinkKind tells templates what a Link points at.
type LinkKind int

const (
	// StaticAsset is a file under the copied layout directory.
	StaticAsset LinkKind = iota
	// PackageRef is a package page; Target is the package name.
	PackageRef
	// GroupRef is a group page; Target is the group file name.
	GroupRef
)

func (k LinkKind) String() string {
	switch k {
	case StaticAsset:
		return "asset"
	case PackageRef:
		return "package"
	case GroupRef:
		return "group"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// Link is a reference from one generated page to another file in the
// output directory.
type Link struct {
	Kind   LinkKind
	Target string
}

// Asset links a layout file.
func Asset(name string) Link { return Link{Kind: StaticAsset, Target: name} }

// ToPackage links the page of a package.
func ToPackage(name string) Link { return Link{Kind: PackageRef, Target: name} }

// ToGroup links a group page by its file name.
func ToGroup(filename string) Link { return Link{Kind: GroupRef, Target: filename} }

// Href returns the link relative to the output directory.
func (l Link) Href() string {
	switch l.Kind {
	case StaticAsset:
		return path.Join("layout", l.Target)
	case PackageRef:
		return repo.PackageFilename(l.Target)
	default:
		return l.Target
	}
}
