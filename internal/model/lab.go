package model

import "time"

// Lab represents a reservable laboratory resource as stored in the `labs`
// table.  Labs belong to an owner account and must be listed before any
// reservation against them can be fulfilled.
//
// Fields:
//  ID             – primary key identifier, used as the resourceId in every
//                   engine index.
//  OwnerAccount   – account that receives payouts for this lab.
//  Name           – human readable lab name, unique per owner.
//  Description    – optional free-form description.
//  HourlyRateCents – price charged per hour of reserved time.
//  IsListed       – whether the owner currently offers the lab; unlisted
//                   labs reject new requests and fail confirmation.
//  LastActivityAt – timestamp of the owner's last confirmed booking or
//                   payout, maintained by the activity notifier.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Lab struct {
	ID              uint64     // labs.id
	OwnerAccount    string     // labs.owner_account
	Name            string     // labs.name
	Description     *string    // labs.description (nullable)
	HourlyRateCents uint64     // labs.hourly_rate_cents
	IsListed        bool       // labs.is_listed
	LastActivityAt  *time.Time // labs.last_activity_at (nullable)
	CreatedAt       time.Time  // labs.created_at
	UpdatedAt       time.Time  // labs.updated_at
}

// PriceFor computes the charge for a [start, end) slot at the lab's hourly
// rate, rounding partial hours up.  A zero rate yields a zero price.
func (l *Lab) PriceFor(start, end uint32) uint64 {
	if end <= start || l.HourlyRateCents == 0 {
		return 0
	}
	seconds := uint64(end - start)
	return (seconds*l.HourlyRateCents + 3599) / 3600
}
