package store

// avlNode owns its two subtrees exclusively.
// height is 1 + max(height(left), height(right)), with an absent child at 0.
type avlNode struct {
	key    string
	val    string
	left   *avlNode
	right  *avlNode
	height int
}

func height(n *avlNode) int {
	if n == nil {
		return 0
	}
	return n.height
}

func balanceFactor(n *avlNode) int {
	if n == nil {
		return 0
	}
	return height(n.left) - height(n.right)
}

func (n *avlNode) updateHeight() {
	n.height = 1 + max(height(n.left), height(n.right))
}

func rotateRight(y *avlNode) *avlNode {
	x := y.left
	y.left = x.right
	x.right = y

	y.updateHeight()
	x.updateHeight()
	return x
}

func rotateLeft(x *avlNode) *avlNode {
	y := x.right
	x.right = y.left
	y.left = x

	x.updateHeight()
	y.updateHeight()
	return y
}

// AVLTree is a height-balanced binary search tree keyed by string.
// It keeps |height(left) - height(right)| <= 1 at every node, so lookups,
// inserts and removals are O(log n). Not safe for concurrent use.
type AVLTree struct {
	root  *avlNode
	count int
}

// NewAVLTree creates an empty tree
func NewAVLTree() *AVLTree {
	return &AVLTree{}
}

// Insert stores val under key. It reports true when an existing key was
// updated in place and false when a node was added.
func (t *AVLTree) Insert(key, val string) bool {
	var updated bool
	t.root = t.insert(t.root, key, val, &updated)
	return updated
}

func (t *AVLTree) insert(n *avlNode, key, val string, updated *bool) *avlNode {
	if n == nil {
		t.count++
		*updated = false
		return &avlNode{key: key, val: val, height: 1}
	}

	switch {
	case key < n.key:
		n.left = t.insert(n.left, key, val, updated)
	case key > n.key:
		n.right = t.insert(n.right, key, val, updated)
	default:
		n.val = val
		*updated = true
		return n
	}

	n.updateHeight()
	balance := balanceFactor(n)

	// Left-Left
	if balance > 1 && key < n.left.key {
		return rotateRight(n)
	}
	// Right-Right
	if balance < -1 && key > n.right.key {
		return rotateLeft(n)
	}
	// Left-Right
	if balance > 1 && key > n.left.key {
		n.left = rotateLeft(n.left)
		return rotateRight(n)
	}
	// Right-Left
	if balance < -1 && key < n.right.key {
		n.right = rotateRight(n.right)
		return rotateLeft(n)
	}
	return n
}

// Remove deletes key and reports whether it was present
func (t *AVLTree) Remove(key string) bool {
	var deleted bool
	t.root = t.remove(t.root, key, &deleted)
	return deleted
}

func (t *AVLTree) remove(n *avlNode, key string, deleted *bool) *avlNode {
	if n == nil {
		return nil
	}

	switch {
	case key < n.key:
		n.left = t.remove(n.left, key, deleted)
	case key > n.key:
		n.right = t.remove(n.right, key, deleted)
	default:
		*deleted = true
		if n.left == nil || n.right == nil {
			t.count--
			if n.left != nil {
				return n.left
			}
			return n.right
		}
		// Two children: take over the successor's content and remove the
		// successor from the right subtree instead
		succ := minNode(n.right)
		n.key, n.val = succ.key, succ.val
		n.right = t.remove(n.right, succ.key, deleted)
	}

	n.updateHeight()
	balance := balanceFactor(n)

	// Ties go to the single rotation here; after a removal the taller
	// child can be perfectly balanced, which never happens on insert.
	if balance > 1 && balanceFactor(n.left) >= 0 {
		return rotateRight(n)
	}
	if balance > 1 && balanceFactor(n.left) < 0 {
		n.left = rotateLeft(n.left)
		return rotateRight(n)
	}
	if balance < -1 && balanceFactor(n.right) <= 0 {
		return rotateLeft(n)
	}
	if balance < -1 && balanceFactor(n.right) > 0 {
		n.right = rotateRight(n.right)
		return rotateLeft(n)
	}
	return n
}

func minNode(n *avlNode) *avlNode {
	for n.left != nil {
		n = n.left
	}
	return n
}

// Lookup returns the value stored under key
func (t *AVLTree) Lookup(key string) (string, bool) {
	n := t.root
	for n != nil {
		switch {
		case key < n.key:
			n = n.left
		case key > n.key:
			n = n.right
		default:
			return n.val, true
		}
	}
	return "", false
}

// ForEach visits entries in ascending key order until fn returns false
func (t *AVLTree) ForEach(fn func(key, val string) bool) {
	inorder(t.root, fn)
}

func inorder(n *avlNode, fn func(key, val string) bool) bool {
	if n == nil {
		return true
	}
	return inorder(n.left, fn) && fn(n.key, n.val) && inorder(n.right, fn)
}

// Size returns the number of keys
func (t *AVLTree) Size() int {
	return t.count
}

// Height returns the height of the tree, 0 when empty
func (t *AVLTree) Height() int {
	return height(t.root)
}

// Clear drops every node
func (t *AVLTree) Clear() {
	t.root = nil
	t.count = 0
}
