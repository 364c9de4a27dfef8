package archive

import "strings"

// stripComponent returns the single top-level directory name shared by
// every entry in names, or "" if there isn't one — either because the
// entries don't share a common root or because a top-level file sits
// alongside the directory. This implements the "archive stripping"
// heuristic: an archive that unpacks to one wrapper directory (the
// common `project-1.2.3/...` shape source tarballs use) has that
// wrapper stripped so sources land directly under the build's source
// directory, for both tar and zip.
func stripComponent(names []string) string {
	var top string
	for _, name := range names {
		name = strings.TrimPrefix(name, "./")
		if name == "" {
			continue
		}
		parts := strings.SplitN(name, "/", 2)
		if len(parts) < 2 {
			// a top-level file: the single-directory heuristic doesn't apply
			return ""
		}
		if top == "" {
			top = parts[0]
		} else if top != parts[0] {
			return ""
		}
	}
	return top
}

// stripName removes the detected top-level component from name, or
// returns "" if name has no content beneath it (the wrapper directory
// entry itself).
func stripName(name, top string) string {
	name = strings.TrimPrefix(name, "./")
	if top == "" {
		return name
	}
	rest := strings.TrimPrefix(name, top+"/")
	if rest == name {
		return ""
	}
	return rest
}
