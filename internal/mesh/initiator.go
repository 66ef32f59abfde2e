package mesh

import "github.com/dkeye/Meet/internal/domain"

// ShouldInitiate reports whether local sends the offer to remote. A host
// always offers to guests; otherwise the lexicographically smaller id does.
// Both sides evaluate it identically, so exactly one of them offers.
func ShouldInitiate(local, remote domain.Participant) bool {
	lr, rr := local.Role(), remote.Role()
	if lr != rr {
		return lr == domain.RoleHost
	}
	return local.ID < remote.ID
}
