// Package hash's directory/bucket split semantics:
//
//   - A bucket splits once Insert finds it full. If the bucket's local
//     depth already equals the directory's global depth, the directory
//     doubles first (IncrGlobalDepth) so a fresh slot exists for the new
//     bucket; otherwise the split only repoints the directory slots that
//     already aliased the split bucket (SplitBucketPageId).
//   - A bucket merges into its split image (GetSplitImageIndex) once
//     Remove leaves it empty and the sibling shares its local depth. The
//     directory shrinks (DecrGlobalDepth) once CanShrink confirms no
//     bucket still needs the full global depth of precision.
//
// Directory and bucket pages are allocated through a buffer.Pool so their
// page ids participate in the same allocation and pinning discipline as
// any other page, even though — unlike a raw byte-addressed page — their
// structured contents live in Go maps rather than a Frame's byte array.
package hash
