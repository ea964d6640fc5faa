package k8s

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/reproserver/reproserver/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPodTemplate = `containers:
  - name: docker
    image: docker:dind
    securityContext:
      privileged: true
  - name: runner
    image: reproserver/runner:latest
    args: ["runner"]
`

func writePodTemplate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "runner-pod-spec.yaml"), []byte(testPodTemplate), 0o644)
	require.NoError(t, err)
	return dir
}

func newTestScheduler(t *testing.T, client *fake.Clientset, overrideImage string) *Scheduler {
	t.Helper()
	return NewScheduler(client, SchedulerConfig{
		Namespace:     "runs",
		NamePrefix:    "run-",
		Labels:        map[string]string{"app": "run"},
		ConfigDir:     writePodTemplate(t),
		OverrideImage: overrideImage,
	})
}

func TestCreateRun(t *testing.T) {
	client := fake.NewSimpleClientset()
	sched := newTestScheduler(t, client, "")
	ctx := context.Background()

	require.NoError(t, sched.CreateRun(ctx, &types.RunInfo{ID: 7}))

	pod, err := client.CoreV1().Pods("runs").Get(ctx, "run-7", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "run", "run": "7"}, pod.Labels)

	require.Len(t, pod.Spec.Containers, 2)
	runnerC := pod.Spec.Containers[1]
	assert.Equal(t, "runner", runnerC.Name)
	assert.Equal(t, []string{"runner", "7"}, runnerC.Args)
	assert.Equal(t, "reproserver/runner:latest", runnerC.Image)

	svc, err := client.CoreV1().Services("runs").Get(ctx, "run-7", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "run", "run": "7"}, svc.Spec.Selector)
	require.Len(t, svc.Spec.Ports, 1)
	assert.Equal(t, int32(ProxyPort), svc.Spec.Ports[0].Port)
}

func TestCreateRunOverrideImage(t *testing.T) {
	client := fake.NewSimpleClientset()
	sched := newTestScheduler(t, client, "registry.test/runner:dev")
	ctx := context.Background()

	require.NoError(t, sched.CreateRun(ctx, &types.RunInfo{ID: 8}))

	pod, err := client.CoreV1().Pods("runs").Get(ctx, "run-8", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "registry.test/runner:dev", pod.Spec.Containers[1].Image)
	// Only the runner container is overridden
	assert.Equal(t, "docker:dind", pod.Spec.Containers[0].Image)
}

func TestCreateRunExtraConfig(t *testing.T) {
	client := fake.NewSimpleClientset()
	sched := newTestScheduler(t, client, "")
	ctx := context.Background()

	info := &types.RunInfo{
		ID: 9,
		ExtraConfig: json.RawMessage(`{
			"required": ["containers", "ports"],
			"containers": [{
				"name": "db",
				"image": "postgres:15",
				"env": [{"name": "POSTGRES_PASSWORD", "value": "hunter2"}]
			}],
			"ports": [{"container_port": 5432, "container": "db"}]
		}`),
	}
	require.NoError(t, sched.CreateRun(ctx, info))

	pod, err := client.CoreV1().Pods("runs").Get(ctx, "run-9", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, pod.Spec.Containers, 3)

	db := pod.Spec.Containers[2]
	assert.Equal(t, "db", db.Name)
	assert.Equal(t, "postgres:15", db.Image)
	require.Len(t, db.Env, 1)
	assert.Equal(t, "POSTGRES_PASSWORD", db.Env[0].Name)
	require.Len(t, db.Ports, 1)
	assert.Equal(t, int32(5432), db.Ports[0].ContainerPort)
}

func TestDeleteRunTolerant(t *testing.T) {
	client := fake.NewSimpleClientset()
	sched := newTestScheduler(t, client, "")
	ctx := context.Background()

	// Nothing exists yet
	require.NoError(t, sched.DeleteRun(ctx, 7))

	require.NoError(t, sched.CreateRun(ctx, &types.RunInfo{ID: 7}))
	require.NoError(t, sched.DeleteRun(ctx, 7))

	_, err := client.CoreV1().Pods("runs").Get(ctx, "run-7", metav1.GetOptions{})
	assert.Error(t, err)
}
