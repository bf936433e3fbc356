package membership

// Policy is the loan policy attached to a role.
type Policy struct {
	MaxLoans int
	LoanDays int
	// Priority ranks reservation holders when the queue orders by role.
	// Lower values are served first.
	Priority int
}

// Policies maps every role to its loan policy.
type Policies map[Role]Policy

func DefaultPolicies() Policies {
	return Policies{
		RoleStudent:   {MaxLoans: 3, LoanDays: 7, Priority: 2},
		RoleProfessor: {MaxLoans: 5, LoanDays: 14, Priority: 1},
		RoleLibrarian: {MaxLoans: 5, LoanDays: 14, Priority: 1},
	}
}

// For returns the policy of role, falling back to the student policy for
// roles without an entry.
func (p Policies) For(role Role) Policy {
	if policy, ok := p[role]; ok {
		return policy
	}
	if policy, ok := p[RoleStudent]; ok {
		return policy
	}
	return DefaultPolicies()[RoleStudent]
}
