package flags

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.curlew.xyz/recommand/notifications"
	"go.curlew.xyz/recommand/pathformat"
)

type pathFormatParser struct{ *pathformat.Format }

func (pf *pathFormatParser) Set(value string) error {
	return pf.Parse(value)
}
func (pf pathFormatParser) String() string {
	if pf.Format == nil || pf.Root() == "" {
		return ""
	}
	return pf.Root() + "/..."
}

type notificationsParser struct{ *notifications.Notifications }

func (n notificationsParser) Set(value string) error {
	eventsRaw, uri, ok := strings.Cut(value, " ")
	if !ok {
		return fmt.Errorf("invalid notification uri format. expected eg \"complete,failed uri\"")
	}
	var lineErrs []error
	for _, event := range strings.Split(eventsRaw, ",") {
		event, uri = strings.TrimSpace(event), strings.TrimSpace(uri)
		err := n.AddURI(notifications.Event(event), uri)
		lineErrs = append(lineErrs, err)
	}
	return errors.Join(lineErrs...)
}
func (n notificationsParser) String() string {
	var parts []string
	n.IterMappings(func(e notifications.Event, uri string) {
		u, _ := url.Parse(uri)
		if u == nil {
			return
		}
		u.User = nil
		parts = append(parts, fmt.Sprintf("%s: %s://%s/...", e, u.Scheme, u.Host))
	})
	return strings.Join(parts, ", ")
}
