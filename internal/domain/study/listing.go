package study

// Find looks up identifier in a listing, either by OID or by unique
// identifier. Studies are checked before their sites; a site match yields a
// site-scoped Study carrying the parent's name and OID.
func Find(listing *Listing, identifier string, byOID bool) (*Study, error) {
	if listing != nil {
		for _, s := range listing.Studies {
			if matches(s.OID, s.Identifier, identifier, byOID) {
				return &Study{Name: s.Identifier, OID: s.OID}, nil
			}
			for _, site := range s.Sites {
				if matches(site.OID, site.Identifier, identifier, byOID) {
					return &Study{
						Name:     s.Identifier,
						OID:      s.OID,
						SiteName: site.Identifier,
						SiteOID:  site.OID,
					}, nil
				}
			}
		}
	}
	return nil, &StudyNotFoundError{Identifier: identifier, ByOID: byOID}
}

func matches(oid, ident, want string, byOID bool) bool {
	if byOID {
		return oid == want
	}
	return ident == want
}
