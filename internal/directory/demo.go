package directory

// DemoPasswordHash is the cost-12 bcrypt hash of "Demo1234!" shared by every demo account.
const DemoPasswordHash = "$2a$12$9AkFNVq2snCbqOpkSYvIq.pbuiABQeXqHSUG.SGbp05C29/0OoSKO"

// DemoEntries returns the four demo accounts. Each call returns fresh values.
func DemoEntries() []Entry {
	return []Entry{
		{
			ID:           "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
			Email:        "john@smithbricklaying.com.au",
			PasswordHash: DemoPasswordHash,
			Profile: ContactProfile{
				ContactID:       "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
				ContactFullName: "John Smith",
				FirstNames:      "John",
				Surname:         "Smith",
				EmailAddress:    "john@smithbricklaying.com.au",
				MobileNumber:    "0412345678",
				ContactPostalAddress: PostalAddress{
					AddressLineOne: "45 Builder Lane",
					Suburb:         "Penrith",
					Postcode:       "2750",
					FullAddress:    "45 Builder Lane, Penrith 2750",
				},
				Organisations: []Organisation{{
					OrganisationContactID:    "e5f6a7b8-c9d0-1234-5678-9abcdef01234",
					OrganisationFullName:     "Smith Bricklaying Pty Ltd",
					TradingName:              "Smith Bricklaying",
					ABN:                      "12345678901",
					OrganisationAlternateKey: "SMIBRIC",
				}},
			},
		},
		{
			ID:           "b2c3d4e5-f6a7-8901-bcde-f12345678901",
			Email:        "sarah@chenpaint.com.au",
			PasswordHash: DemoPasswordHash,
			Profile: ContactProfile{
				ContactID:       "b2c3d4e5-f6a7-8901-bcde-f12345678901",
				ContactFullName: "Sarah Chen",
				FirstNames:      "Sarah",
				Surname:         "Chen",
				EmailAddress:    "sarah@chenpaint.com.au",
				MobileNumber:    "0423456789",
				ContactPostalAddress: PostalAddress{
					AddressLineOne: "12 Colour Street",
					Suburb:         "Blacktown",
					Postcode:       "2148",
					FullAddress:    "12 Colour Street, Blacktown 2148",
				},
				Organisations: []Organisation{{
					OrganisationContactID:    "f6a7b8c9-d0e1-2345-6789-abcdef012345",
					OrganisationFullName:     "Chen Painting Services Pty Ltd",
					TradingName:              "Chen Painting",
					ABN:                      "23456789012",
					OrganisationAlternateKey: "PLWPAIN",
				}},
			},
		},
		{
			ID:           "c3d4e5f6-a7b8-9012-cdef-123456789012",
			Email:        "david@wilsonframes.com.au",
			PasswordHash: DemoPasswordHash,
			Profile: ContactProfile{
				ContactID:       "c3d4e5f6-a7b8-9012-cdef-123456789012",
				ContactFullName: "David Wilson",
				FirstNames:      "David",
				Surname:         "Wilson",
				EmailAddress:    "david@wilsonframes.com.au",
				MobileNumber:    "0434567890",
				ContactPostalAddress: PostalAddress{
					AddressLineOne: "78 Timber Road",
					AddressLineTwo: "Unit 3",
					Suburb:         "Castle Hill",
					Postcode:       "2154",
					FullAddress:    "78 Timber Road Unit 3, Castle Hill 2154",
				},
				Organisations: []Organisation{{
					OrganisationContactID:    "a7b8c9d0-e1f2-3456-789a-bcdef0123456",
					OrganisationFullName:     "Wilson Framing & Carpentry Pty Ltd",
					TradingName:              "Wilson Frames",
					ABN:                      "34567890123",
					OrganisationAlternateKey: "FEIDAPA",
				}},
			},
		},
		{
			ID:           "d4e5f6a7-b8c9-0123-defa-234567890123",
			Email:        "admin@perspective-demo.com",
			PasswordHash: DemoPasswordHash,
			Profile: ContactProfile{
				ContactID:       "d4e5f6a7-b8c9-0123-defa-234567890123",
				ContactFullName: "Demo Admin",
				FirstNames:      "Demo",
				Surname:         "Admin",
				EmailAddress:    "admin@perspective-demo.com",
				MobileNumber:    "0400000000",
				ContactPostalAddress: PostalAddress{
					AddressLineOne: "1 Demo Street",
					Suburb:         "Sydney",
					Postcode:       "2000",
					FullAddress:    "1 Demo Street, Sydney 2000",
				},
				Organisations: []Organisation{{
					OrganisationContactID:    "b8c9d0e1-f2a3-4567-89ab-cdef01234567",
					OrganisationFullName:     "Perspective Demo Pty Ltd",
					TradingName:              "Perspective Demo",
					ABN:                      "00000000000",
					OrganisationAlternateKey: "DEMADM",
				}},
			},
		},
	}
}
