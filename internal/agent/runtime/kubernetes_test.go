package runtime

import (
	"context"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestKubernetesRuntime_Start_CreatesJob(t *testing.T) {
	clientset := fake.NewClientset()

	rt := &KubernetesRuntime{
		clientset: clientset,
		config: KubernetesConfig{
			Namespace:          "test-ns",
			DefaultCPULimit:    "500m",
			DefaultMemoryLimit: "256Mi",
		},
	}

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Image:   "alpine:latest",
		Command: []string{"echo", "hello"},
		Env:     map[string]string{"FOO": "bar"},
	})

	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle to be non-nil")
	}

	jobs, err := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs.Items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.Items))
	}

	job := jobs.Items[0]
	container := job.Spec.Template.Spec.Containers[0]

	if container.Image != "alpine:latest" {
		t.Errorf("expected image alpine:latest, got %s", container.Image)
	}
	if len(container.Command) != 2 {
		t.Errorf("expected 2 command args, got %d", len(container.Command))
	}
	if container.Name != "runner" {
		t.Errorf("expected container name runner, got %s", container.Name)
	}
	if job.Labels["app.kubernetes.io/managed-by"] != "procplane" {
		t.Errorf("unexpected managed-by label: %s", job.Labels["app.kubernetes.io/managed-by"])
	}
	if job.Spec.BackoffLimit == nil || *job.Spec.BackoffLimit != 0 {
		t.Error("expected BackoffLimit 0")
	}
}

func TestKubernetesRuntime_Start_ServiceAccount(t *testing.T) {
	clientset := fake.NewClientset()

	rt := &KubernetesRuntime{
		clientset: clientset,
		config: KubernetesConfig{
			Namespace:          "test-ns",
			ServiceAccount:     "runner-sa",
			DefaultCPULimit:    "500m",
			DefaultMemoryLimit: "256Mi",
		},
	}

	if _, err := rt.Start(context.Background(), StartOptions{
		Image:   "alpine:latest",
		Command: []string{"true"},
	}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(context.Background(), metav1.ListOptions{})
	if jobs.Items[0].Spec.Template.Spec.ServiceAccountName != "runner-sa" {
		t.Errorf("expected service account runner-sa, got %s", jobs.Items[0].Spec.Template.Spec.ServiceAccountName)
	}
}

func TestKubernetesHandle_Stop_DeletesJob(t *testing.T) {
	clientset := fake.NewClientset()

	rt := &KubernetesRuntime{
		clientset: clientset,
		config: KubernetesConfig{
			Namespace:          "test-ns",
			DefaultCPULimit:    "500m",
			DefaultMemoryLimit: "256Mi",
		},
	}

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Image:   "alpine:latest",
		Command: []string{"true"},
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := handle.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if len(jobs.Items) != 0 {
		t.Errorf("expected job to be deleted, found %d", len(jobs.Items))
	}
}
