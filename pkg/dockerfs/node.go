package dockerfs

import (
	"github.com/lucido-simon/fuse-docker/pkg/models"
)

// node is a classified inode: either a categoryNode or a
// containerNode.
type node interface {
	ino() uint64
	sealed()
}

type categoryNode struct {
	category Category
}

func (n categoryNode) ino() uint64 { return n.category.Ino() }

func (categoryNode) sealed() {}

type containerNode struct {
	container models.Container
}

func (n containerNode) ino() uint64 { return n.container.Ino }

func (containerNode) sealed() {}
