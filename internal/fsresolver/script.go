package fsresolver

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// mountRoot is where the upstream mounts network filesystems on every VM
const mountRoot = "/home/ubuntu"

// loaderScriptTemplate is the userData for a loader VM: fetch credentials,
// download the source tree into the mount path, report completion, remount
// read-only, shut down. The completion callback is what lets the control
// plane mark the filesystem ready; loaders must never skip it.
var loaderScriptTemplate = template.Must(template.New("loader").Parse(`#!/bin/bash
set -euo pipefail

NFS_PATH="{{.MountPath}}"
CREDS_FILE="/root/.seed-credentials"
export NFS_PATH CREDS_FILE

{{if eq .Kind "s3" -}}
cat > "$CREDS_FILE" <<'SEED_CREDS'
[default]
aws_access_key_id = {{.AccessKeyID}}
aws_secret_access_key = {{.SecretAccessKey}}
SEED_CREDS
export AWS_SHARED_CREDENTIALS_FILE="$CREDS_FILE"
{{- else -}}
cat > "$CREDS_FILE" <<'SEED_CREDS'
{{.ServiceAccountJSON}}
SEED_CREDS
{{- end}}
chmod 600 "$CREDS_FILE"

{{if .DownloadScript -}}
{{.DownloadScript}}
{{- else if eq .Kind "s3" -}}
apt-get update -qq
apt-get install -y -qq awscli
aws s3 sync "{{.SourceURL}}" "$NFS_PATH"
{{- else -}}
curl -fsSL https://sdk.cloud.google.com | bash -s -- --disable-prompts
source /root/google-cloud-sdk/path.bash.inc
gcloud auth activate-service-account --key-file="$CREDS_FILE"
gsutil -m rsync -r "{{.SourceURL}}" "$NFS_PATH"
{{- end}}

curl -fsS -X POST "{{.CallbackURL}}" \
  -H "Authorization: Bearer {{.Secret}}" \
  -H "Content-Type: application/json" \
  -d '{"filesystemName":"{{.FilesystemName}}","region":"{{.Region}}"}'

mount -o remount,ro "$NFS_PATH" || true
shutdown -h now
`))

type loaderScriptData struct {
	MountPath          string
	Kind               string
	AccessKeyID        string
	SecretAccessKey    string
	ServiceAccountJSON string
	DownloadScript     string
	SourceURL          string
	CallbackURL        string
	Secret             string
	FilesystemName     string
	Region             string
}

func renderLoaderScript(def types.DefaultFilesystem, region, appBaseURL, secret string) (string, error) {
	data := loaderScriptData{
		MountPath:          mountRoot + "/" + def.Name,
		Kind:               string(def.Source.Kind),
		AccessKeyID:        def.Source.AccessKeyID,
		SecretAccessKey:    def.Source.SecretAccessKey,
		ServiceAccountJSON: def.Source.ServiceAccountJSON,
		DownloadScript:     def.DownloadScript,
		SourceURL:          def.Source.URL,
		CallbackURL:        strings.TrimSuffix(appBaseURL, "/") + "/api/seed-complete",
		Secret:             secret,
		FilesystemName:     def.Name,
		Region:             region,
	}

	var buf bytes.Buffer
	if err := loaderScriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func remountReadonlyCommand(name string) string {
	return fmt.Sprintf("mount -o remount,ro %s/%s || true", mountRoot, name)
}

// ComposeUserData splices the admin setup script and the resolver's remount
// fragment into one boot script. The setup script may carry its own shebang;
// it is stripped before splicing.
func ComposeUserData(setupScript, remountScript string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -euo pipefail\n")

	if setup := stripShebang(setupScript); setup != "" {
		b.WriteString("\n")
		b.WriteString(setup)
		if !strings.HasSuffix(setup, "\n") {
			b.WriteString("\n")
		}
	}

	if remountScript != "" {
		b.WriteString("\n")
		b.WriteString(remountScript)
		if !strings.HasSuffix(remountScript, "\n") {
			b.WriteString("\n")
		}
	}

	return b.String()
}

func stripShebang(script string) string {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "#!") {
		if i := strings.IndexByte(script, '\n'); i >= 0 {
			script = strings.TrimSpace(script[i+1:])
		} else {
			script = ""
		}
	}
	return script
}
