package dockerfs

// Category is one of the fixed top-level directories. Its value is its
// inode and never changes.
type Category uint64

const (
	Root Category = iota + 1
	Containers
	Images
	Volumes
	Networks
)

var categoryNames = map[Category]string{
	Root:       "/",
	Containers: "containers",
	Images:     "images",
	Volumes:    "volumes",
	Networks:   "networks",
}

// Children returns the categories listed under Root, in listing order.
func Children() []Category {
	return []Category{Containers, Images, Volumes, Networks}
}

// Ino returns the category's inode.
func (c Category) Ino() uint64 {
	return uint64(c)
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseCategory resolves a directory name under Root. Matching is
// exact and case-sensitive.
func ParseCategory(name string) (Category, bool) {
	for _, c := range Children() {
		if categoryNames[c] == name {
			return c, true
		}
	}
	return 0, false
}

// CategoryOf returns the category whose inode is ino.
func CategoryOf(ino uint64) (Category, bool) {
	c := Category(ino)
	return c, c.Valid()
}
