package web

import (
	"strings"

	"github.com/ziadhany/federatedcode/activitypub"
	"github.com/ziadhany/federatedcode/util"
)

// GetWebfinger resolves a webfinger resource to its descriptor. The
// identity part is a username for persons and services, or a purl like
// "pkg:npm/left-pad" for package accounts.
func (s *Server) GetWebfinger(resource string) (error, map[string]any) {
	identity, host := util.ParseWebfinger(resource)
	if host != "" && host != s.conf.Conf.Domain {
		return errNotLocal, nil
	}

	var href string
	if strings.HasPrefix(identity, "pkg:") {
		if !util.CheckPurlActor(identity) {
			return errNotLocal, nil
		}
		err, pkg := s.db.ReadPackageByPurl(identity)
		if err != nil {
			return err, nil
		}
		href = activitypub.PurlProfileURL(s.conf.Conf.Domain, pkg.Purl)
	} else {
		err, person := s.db.ReadPersonByUsername(identity)
		if err == nil {
			href = activitypub.UserProfileURL(s.conf.Conf.Domain, person.Username)
		} else {
			err, service := s.db.ReadServiceByUsername(identity)
			if err != nil {
				return err, nil
			}
			href = activitypub.UserProfileURL(s.conf.Conf.Domain, service.Username)
		}
	}

	return nil, map[string]any{
		"subject": util.PairToWebfinger(identity, s.conf.Conf.Domain),
		"links": []map[string]any{
			{
				"rel":  "self",
				"type": activitypub.ContentType,
				"href": href,
			},
		},
	}
}
